package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/worldchat/backend/internal/service/session"
	"github.com/worldchat/backend/pkg/utils"
)

type sessionKey struct{}

// Authenticate resolves the caller's bearer token to a session and
// rejects the request with 401 otherwise. Unauthenticated writes are
// rejected uniformly across chat and presence endpoints.
func Authenticate(sessions *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "not logged in")
				return
			}

			sess, ok := sessions.Resolve(token)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "not logged in")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFrom extracts the authenticated session placed by Authenticate.
func SessionFrom(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(session.Session)
	return sess, ok
}

// bearerToken reads the token from the Authorization header, falling
// back to the token query parameter for websocket and SSE clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
