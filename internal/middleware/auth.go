package middleware

import (
	"net/http"

	"github.com/sobun/chat/internal/auth"
)

// BearerAuth validates the Authorization header against the verifier and
// stores the principal in the request context. Unlike the WebSocket
// handshake, the HTTP API is fail-closed: a missing or invalid token is 401.
func BearerAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.FromBearer(r.Header.Get("Authorization"))
			if raw == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			p, err := verifier.Verify(raw)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
