// internal/app/features/insights/routes.go
package insights

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter mounted under /insights.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireToken)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/cache", h.ServeCacheStats)
		r.Get("/projects", h.ServeProjects)
		r.Get("/projects/{projectID}", h.ServeProjectDetails)

		r.Get("/hidden", h.ServeHiddenPage)
		r.Post("/hidden", h.ServeHide)
		r.Get("/hidden/stats", h.ServeHiddenStats)
		r.Get("/hidden/recent", h.ServeHiddenRecent)
		r.Get("/hidden/count", h.ServeHiddenCount)
		r.Get("/hidden/timeline", h.ServeTimeline)
		r.Get("/hidden/{projectID}", h.ServeIsHidden)
	})
	return r
}
