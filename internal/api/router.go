package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linestore/internal/lineservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *lineservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(sourceMiddleware)

	// Whole files.
	r.Get("/files", h.Tree)
	r.Post("/files", h.CreateFile)
	r.Get("/files/*", h.GetFile)
	r.Put("/files/*", h.PutFile)
	r.Delete("/files/*", h.DeleteFile)
	r.Post("/append/*", h.AppendFile)
	r.Post("/clear/*", h.ClearFile)

	// Line-addressed access.
	r.Route("/lines", func(r chi.Router) {
		r.Get("/count/*", h.CountLines)
		r.Get("/line/*", h.ReadLine)
		r.Put("/line/*", h.ReplaceLine)
		r.Post("/line/*", h.InsertLine)
		r.Delete("/line/*", h.DeleteLine)
		r.Get("/range/*", h.ReadRange)
		r.Delete("/range/*", h.DeleteRange)
		r.Get("/search/*", h.SearchLine)
	})

	// File utilities.
	r.Route("/ops", func(r chi.Router) {
		r.Post("/copy", h.Copy)
		r.Post("/rename", h.Rename)
		r.Post("/backup", h.Backup)
		r.Post("/restore", h.Restore)
		r.Post("/mkdir", h.Mkdir)
		r.Post("/purge", h.Purge)
	})

	r.Get("/journal", h.Journal)
	r.Get("/usage", h.Usage)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
