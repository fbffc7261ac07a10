// Package auth guards operator endpoints with a shared bearer token.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/aegis-router/internal/httputil"
)

// AdminToken returns a chi middleware that requires "Authorization: Bearer
// <token>". An empty token disables the check.
func AdminToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := httputil.RequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <admin-token>")
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if presented == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <admin-token>")
				return
			}
			if presented == "" {
				httputil.WriteAuthError(w, reqID, "Empty admin token")
				return
			}

			if !Matches(presented, token) {
				logger.Warn("admin auth failed", "path", r.URL.Path, "token_prefix", KeyPrefix(presented), "remote_addr", r.RemoteAddr)
				httputil.WriteAuthError(w, reqID, "Invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
