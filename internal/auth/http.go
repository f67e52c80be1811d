// ABOUTME: HTTP middleware for API key authorization on the HTTP server API
// ABOUTME: Shares the gRPC authorizer so both transports accept the same key

package auth

import (
	"log/slog"
	"net/http"
)

// HTTPMiddleware creates an HTTP middleware that rejects requests whose
// Authorization header does not carry the configured API key. Rejections are
// a plain text 403 and never reach the wrapped handler.
func HTTPMiddleware(authz *APIKeyAuthorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authz.AuthorizeValues(r.Header.Values("Authorization")); err != nil {
				if logger != nil {
					logger.Warn("auth failure",
						"reason", err.Error(),
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
					)
				}
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
