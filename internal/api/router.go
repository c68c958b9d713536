package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tasklink/internal/actions"
)

// RouterConfig holds what NewRouter mounts.
type RouterConfig struct {
	AuthEnabled bool
	Token       string
	// Events and Notifications, if non-nil, are mounted at GET /events and
	// GET /notifications/ws inside the auth group.
	Events        http.Handler
	Notifications http.Handler
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *actions.Service, cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)

	r.Post("/duplicates", h.CheckDuplicates)
	r.Post("/tasks/precheck", h.PrecheckTasks)
	r.Post("/tasks/bulk", h.CreateTasks)
	r.Post("/conversions/precheck", h.PrecheckConversion)
	r.Post("/conversions", h.ConvertNotes)

	r.Route("/queries", func(r chi.Router) {
		r.Get("/", h.ListQueries)
		r.Post("/refresh", h.RefreshQueries)
		r.Post("/snooze", h.SnoozeQuery)
		r.Delete("/snooze", h.UnsnoozeQuery)
	})

	r.Put("/views", h.MountView)
	r.Delete("/views", h.UnmountView)

	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}
	if cfg.Notifications != nil {
		r.Get("/notifications/ws", cfg.Notifications.ServeHTTP)
	}

	return r
}
