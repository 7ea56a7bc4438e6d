// Package secretbox sella valores cortos (códigos de proveedor diferidos) antes
// de que lleguen al cache, usando NaCl secretbox (XSalsa20-Poly1305).
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLength   = 32
	nonceLength = 24
	sep         = "|" // base64(nonce)|base64(box)
)

// ErrTampered indica que el box no autenticó con la clave dada.
var ErrTampered = errors.New("secretbox: message authentication failed")

// Box sella y abre valores con una clave fija de 32 bytes.
type Box struct {
	key [keyLength]byte
}

// New crea un Box desde una clave en base64 (std o raw) o hex de 64 chars.
func New(key string) (*Box, error) {
	kb, err := decodeKey(strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	b := &Box{}
	copy(b.key[:], kb)
	return b, nil
}

// NewRandom crea un Box con una clave efímera. Los valores sellados no
// sobreviven un reinicio del proceso; válido solo para dev con cache memory.
func NewRandom() (*Box, error) {
	b := &Box{}
	if _, err := io.ReadFull(rand.Reader, b.key[:]); err != nil {
		return nil, fmt.Errorf("secretbox: random key: %w", err)
	}
	return b, nil
}

// Seal cifra plain y devuelve base64(nonce)|base64(box).
func (b *Box) Seal(plain string) (string, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}
	sealed := secretbox.Seal(nil, []byte(plain), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(nonce[:]) + sep + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open revierte Seal.
func (b *Box) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, sep)
	if len(parts) != 2 {
		return "", errors.New("secretbox: formato inválido, esperado base64(nonce)|base64(box)")
	}
	nb, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("secretbox: decode nonce: %w", err)
	}
	if len(nb) != nonceLength {
		return "", fmt.Errorf("secretbox: nonce inválido: %d bytes", len(nb))
	}
	box, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secretbox: decode box: %w", err)
	}

	var nonce [nonceLength]byte
	copy(nonce[:], nb)
	plain, ok := secretbox.Open(nil, box, &nonce, &b.key)
	if !ok {
		return "", ErrTampered
	}
	return string(plain), nil
}

func decodeKey(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("secretbox: clave vacía; genere una con: openssl rand -base64 32")
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == keyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == keyLength {
		return b, nil
	}
	if len(key) == 2*keyLength {
		if h, err := hex.DecodeString(key); err == nil {
			return h, nil
		}
	}
	return nil, fmt.Errorf("secretbox: clave inválida (requiere %d bytes en base64 o hex)", keyLength)
}
