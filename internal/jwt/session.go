package jwt

import (
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("session secret is empty")
	ErrInvalidToken = errors.New("invalid_jwt")
	ErrNoSubject    = errors.New("token has no subject")
)

// SessionIssuer firma y valida los JWT (HS256) que representan la sesión del
// host-app. El backend de referencia los exige en las completions diferidas.
type SessionIssuer struct {
	secret []byte
	issuer string
}

func NewSessionIssuer(secret, issuer string) (*SessionIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	return &SessionIssuer{secret: []byte(secret), issuer: issuer}, nil
}

// Sign emite un token para subject con expiración ttl.
func (s *SessionIssuer) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtv5.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwtv5.NewNumericDate(now),
		NotBefore: jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse valida firma, exp/nbf (30s de tolerancia) e issuer, y retorna el subject.
func (s *SessionIssuer) Parse(token string) (string, error) {
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithLeeway(30 * time.Second),
		jwtv5.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwtv5.WithIssuer(s.issuer))
	}

	var claims jwtv5.RegisteredClaims
	tok, err := jwtv5.ParseWithClaims(token, &claims, func(*jwtv5.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// BearerToken extrae el token de un header "Authorization: Bearer ...".
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
