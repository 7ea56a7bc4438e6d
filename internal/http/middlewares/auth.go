package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/linkbroker/internal/http/errors"
	"github.com/dropDatabas3/linkbroker/internal/jwt"
)

// =================================================================================
// SESSION MIDDLEWARES
// =================================================================================

// RequireSession valida Authorization: Bearer <JWT> y guarda el subject en el contexto.
// Si el token es inválido o no está presente, responde 401.
func RequireSession(issuer *jwt.SessionIssuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := jwt.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="linkbroker", error="invalid_token", error_description="missing bearer token"`)
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			sub, err := issuer.Parse(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="linkbroker", error="invalid_token"`)
				errors.WriteError(w, errors.ErrTokenInvalid.WithCause(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// OptionalSession intenta validar el token pero NO falla si falta o es inválido.
// Las rutas de inicio lo usan: con sesión el callback canjea el code en el acto,
// sin sesión lo estaciona como code_id.
func OptionalSession(issuer *jwt.SessionIssuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := jwt.BearerToken(r.Header.Get("Authorization"))
			if !ok || issuer == nil {
				next.ServeHTTP(w, r)
				return
			}
			sub, err := issuer.Parse(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}
