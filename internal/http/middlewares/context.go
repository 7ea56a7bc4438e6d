package middlewares

import "context"

type ctxKey string

const (
	// ctxUserIDKey guarda el subject del JWT de sesión
	ctxUserIDKey ctxKey = "user_id"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
	// ctxNonceKey guarda el nonce CSP de páginas HTML
	ctxNonceKey ctxKey = "csp_nonce"
)

// WithUserID inyecta el user ID en el contexto
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

// setRequestID inyecta el request ID en el contexto (interno)
func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

func setNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, ctxNonceKey, nonce)
}

// GetUserID obtiene el user ID del contexto. "" si no hay sesión.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestID obtiene el request ID del contexto.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetNonce devuelve el nonce CSP generado por WithPageSecurityHeaders.
func GetNonce(ctx context.Context) string {
	if v, ok := ctx.Value(ctxNonceKey).(string); ok {
		return v
	}
	return ""
}
