package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"academia-backend/internal/handlers"
	"academia-backend/internal/middleware"
	"academia-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	studySessionHandler *handlers.StudySessionHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHub *websocket.Hub,
	wsLimiter *middleware.RateLimiter,
	registry *prometheus.Registry,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Study Session Routes ────
		r.Route("/study-sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", studySessionHandler.Record)
			r.Get("/", studySessionHandler.List)
			r.Get("/summary", studySessionHandler.Summary)
			r.Put("/{id}", studySessionHandler.Update)
		})

		// ──── Notification Routes ────
		r.Route("/notifications", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", notificationHandler.List)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Put("/read-all", notificationHandler.MarkAllAsRead)
			r.Put("/{id}/read", notificationHandler.MarkAsRead)
		})

		// ──── WebSocket ────
		r.Group(func(r chi.Router) {
			if wsLimiter != nil {
				r.Use(wsLimiter.Middleware)
			}
			r.Get("/ws", wsHub.HandleWebSocket)
		})
	})

	return r
}
