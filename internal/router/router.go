package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"douly-backend/internal/handlers"
	"douly-backend/internal/middleware"
	"douly-backend/internal/websocket"
)

func New(
	sessionAuth *middleware.SessionAuth,
	sessionHandler *handlers.SessionHandler,
	createLimiter *middleware.RateLimiter,
	messageLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(middleware.CORS(frontendURL)))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/packs", sessionHandler.Packs)

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			// Session creation is public and gets its own limiter.
			r.With(createLimiter.Middleware).Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(sessionAuth.Middleware)
				r.Get("/", sessionHandler.Get)
				r.Get("/audit", sessionHandler.Audit)
				r.Delete("/", sessionHandler.Delete)

				r.Group(func(r chi.Router) {
					r.Use(messageLimiter.Middleware)
					r.Post("/messages", sessionHandler.SendMessage)
					r.Post("/suggestions/{packID}", sessionHandler.SendSuggestion)
				})
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
