package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/xwiki/internal/assets"
	"github.com/starford/xwiki/internal/pages"
	"github.com/starford/xwiki/internal/projects"
	"github.com/starford/xwiki/internal/search"
)

// Deps are the services the API is built on.
type Deps struct {
	Pages    *pages.Service
	Search   *search.Service
	Projects *projects.Service
	Uploader *assets.Uploader
	DB       Pinger

	// Events, if non-nil, is mounted at GET /api/events.
	Events http.Handler
	// RawRoot, if set, serves local store binaries at GET /raw/*.
	RawRoot string
}

// NewRouter creates a chi router with the API mounted under /api, the health
// endpoints and, for the local store, /raw.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Pages, d.Search, d.Projects)
	ah := NewAttachmentHandler(d.Uploader, d.RawRoot)

	r := chi.NewRouter()
	r.Get("/health", Health)
	r.Get("/health/live", Health)
	r.Get("/health/ready", Ready(d.DB))
	if d.RawRoot != "" {
		r.Get("/raw/*", ah.ServeRaw)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/pages", h.ListPages)
		r.Post("/pages", h.CreatePage)
		r.Get("/pages/*", h.GetPage)
		r.Put("/pages/*", h.UpdatePage)
		r.Delete("/pages/*", h.DeletePage)

		r.Get("/tags", h.ListTags)
		r.Get("/tags/*", h.TagPages)

		r.Get("/search", h.Search)

		r.Post("/upload/image", ah.Upload)

		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Put("/projects/{id}", h.UpdateProject)
		r.Delete("/projects/{id}", h.DeleteProject)

		if d.Events != nil {
			r.Get("/events", d.Events.ServeHTTP)
		}
	})
	return r
}
