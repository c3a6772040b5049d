package middleware

import (
	"log/slog"
	"net/http"
)

// CORS allows browser dashboards served from allowedOrigin to call the API.
// "*" allows any origin without credentials.
func CORS(allowedOrigin string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Set the CORS headers on every response, preflight or not.
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Access-Control-Allow-Headers, Authorization, X-Requested-With")
			// Browsers reject credentials alongside a wildcard origin, so they
			// are only offered for a named one.
			if allowedOrigin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				// The response depends on the caller's origin; keep caches from
				// mixing them up.
				w.Header().Add("Vary", "Origin")
			}

			// Answer the preflight here; it never reaches the API handlers.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				logger.Debug("handled CORS preflight", "path", r.URL.Path)
				return
			}

			// Hand every other request on to the wrapped handler.
			next.ServeHTTP(w, r)
		})
	}
}
