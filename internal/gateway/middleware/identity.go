package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller's id as asserted by the identity provider in
// front of this service.
const UserIDHeader = "X-User-Id"

type userIDKey struct{}

// Identity copies the caller's user id into the request context. Browsers
// cannot set headers on websocket upgrades, so the user_id query parameter is
// accepted as a fallback.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the caller's id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
