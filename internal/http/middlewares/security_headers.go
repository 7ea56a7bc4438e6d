package middlewares

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
)

// isHTTPS detecta si el request llegó por HTTPS (directo o detrás de proxy).
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func setCommonHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-DNS-Prefetch-Control", "off")
	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
	if isHTTPS(r) {
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
	}
}

// WithSecurityHeaders inyecta cabeceras de seguridad por defecto.
// Diseñado para APIs, no para páginas HTML.
func WithSecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setCommonHeaders(w, r)
			h := w.Header()
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// WithPageSecurityHeaders es la variante para la página puente: permite un único
// script inline identificado por nonce (ver GetNonce) y nada más.
// No setea Cross-Origin-Opener-Policy: la página necesita window.opener.
func WithPageSecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var b [18]byte
			_, _ = rand.Read(b[:])
			nonce := base64.StdEncoding.EncodeToString(b[:])

			setCommonHeaders(w, r)
			h := w.Header()
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy",
				"default-src 'none'; script-src 'nonce-"+nonce+"'; style-src 'nonce-"+nonce+"'; "+
					"connect-src 'self'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")

			next.ServeHTTP(w, r.WithContext(setNonce(r.Context(), nonce)))
		})
	}
}
