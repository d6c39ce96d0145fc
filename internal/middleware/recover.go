package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/pkg/response"
)

// Recover turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so the server drops the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.FromContext(r.Context()).Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("Panic recovered")

			if id := GetRequestID(r.Context()); id != "" {
				response.ErrorWithDetails(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred",
					map[string]string{"requestId": id})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		}()

		next.ServeHTTP(w, r)
	})
}
