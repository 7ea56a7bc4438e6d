package middlewares

import "net/http"

// Middleware es un decorador de http.Handler
type Middleware func(http.Handler) http.Handler

// Chain aplica middlewares en orden de izquierda a derecha.
// Chain(h, A, B, C) ejecuta: A -> B -> C -> h
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}

// Stack junta varios middlewares en uno, para usar con chi (r.Use / r.With).
func Stack(mws ...Middleware) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Chain(next, mws...)
	}
}
