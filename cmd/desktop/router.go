package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/kimhsiao/catalogsync/cmd/desktop/handlers"
	"github.com/kimhsiao/catalogsync/internal/app"
)

// newRouter registers every route of the desktop server.
func newRouter(c *app.Container, hub *WSHub) http.Handler {
	syncHandler := handlers.NewSyncHandler(c)
	catalogHandler := handlers.NewCatalogHandler(c.Catalog)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"catalogsync-desktop"}`))
	})
	r.Handle("/metrics", c.Metrics.Handler())
	r.Get("/ws", HandleWebSocket(hub))

	r.Route("/api", func(r chi.Router) {
		r.Get("/sync/status", syncHandler.GetStatus)

		// Manual passes hit the backend; keep a stuck client from hammering it.
		r.Group(func(r chi.Router) {
			if limit := c.Config.Server.SyncRateLimit; limit > 0 {
				r.Use(httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			}
			r.Post("/sync", syncHandler.TriggerSync)
			r.Post("/sync/force", syncHandler.ForceSync)
			r.Post("/sync/replay", syncHandler.Replay)
		})

		r.Get("/queue", syncHandler.ListQueue)
		r.Delete("/queue", syncHandler.ClearQueue)
		r.Get("/queue/dead-letters", syncHandler.DeadLetters)
		r.Delete("/queue/dead-letters", syncHandler.PurgeDeadLetters)
		r.Post("/queue/dead-letters/{id}/requeue", syncHandler.RequeueDeadLetter)

		r.Get("/notifications", syncHandler.Notifications)

		r.Mount("/catalog", catalogHandler.Routes())
	})

	return r
}
