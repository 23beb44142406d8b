package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bdgdview/bdgd-api/internal/model"
)

// CookieName is the session cookie presented by authenticated clients.
const CookieName = "session_id"

type contextKey int

const (
	userKey contextKey = iota
	sessionIDKey
)

// SessionValidator is the slice of session.Store the middleware uses.
type SessionValidator interface {
	Get(id string) (model.User, bool)
}

// RequireSession rejects requests without a valid session cookie and
// puts the resolved user into the request context. Missing, unknown
// and expired sessions all produce the same 401.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil {
				unauthorized(w)
				return
			}

			user, ok := sessions.Get(cookie.Value)
			if !ok {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, sessionIDKey, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the authenticated user put in the context by
// RequireSession.
func UserFrom(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(userKey).(model.User)
	return user, ok
}

// SessionIDFrom returns the session identifier for the request.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
}
