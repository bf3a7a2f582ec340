// internal/server/middleware.go

package server

import (
	"net/http"

	"pawmap/internal/domain/identity"
)

// Identity headers set by the authenticating proxy in front of the API
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
)

// Identity binds the caller's actor to the request context. Browsers cannot
// set headers on WebSocket upgrades, so the query parameters user_id,
// user_name and user_email are accepted as well.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := identity.Actor{
			ID:          r.Header.Get(HeaderUserID),
			DisplayName: r.Header.Get(HeaderUserName),
			Email:       r.Header.Get(HeaderUserEmail),
		}
		if actor.ID == "" {
			q := r.URL.Query()
			actor = identity.Actor{
				ID:          q.Get("user_id"),
				DisplayName: q.Get("user_name"),
				Email:       q.Get("user_email"),
			}
		}

		if actor.ID != "" {
			r = r.WithContext(identity.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
