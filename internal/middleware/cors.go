package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSHandler returns a configured CORS handler for Chi. Browsers reject
// credentialed responses for a wildcard origin, so "*" turns credentials off.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	credentials := true
	for _, o := range allowedOrigins {
		if o == "*" {
			credentials = false
			break
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			HeaderCSRF, HeaderRequestID, HeaderIdempotencyKey,
		},
		ExposedHeaders:   []string{HeaderCSRF, HeaderRequestID, HeaderRetryAfter, HeaderReplayed},
		AllowCredentials: credentials,
		MaxAge:           300, // 5 minutes
	})
}
