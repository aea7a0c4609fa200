package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients from origins. With no origins configured only
// the local dashboard at localhost:3000 is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", IdempotencyKeyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, IdempotentReplayedHeader, "Retry-After"},
		MaxAge:         300,
	})
}
