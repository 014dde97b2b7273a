// internal/app/features/scheduled/routes.go
package scheduled

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter mounted under /scheduled.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireToken)
	r.Get("/cache-refresh", h.ServeCacheRefresh)
	r.Post("/cache-refresh", h.ServeCacheRefresh)
	r.Get("/session-keepalive", h.ServeSessionKeepAlive)
	r.Get("/refresh-all-users", h.ServeRefreshAllUsers)
	r.Post("/refresh-one/{userID}", h.ServeRefreshOne)
	return r
}
