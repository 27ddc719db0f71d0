package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"cropdoc-backend/internal/handlers"
	"cropdoc-backend/internal/middleware"
	"cropdoc-backend/internal/websocket"
)

func New(
	sessionAuth *middleware.SessionAuth,
	analyzeLimiter *middleware.RateLimiter,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
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

	r.Route("/api/v1", func(r chi.Router) {
		// ──── Session bootstrap (public) ────
		r.Post("/sessions", sessionHandler.Create)

		// ──── Session Routes ────
		r.Route("/session", func(r chi.Router) {
			r.Use(sessionAuth.Middleware)
			r.Get("/", sessionHandler.Get)
			r.Delete("/", sessionHandler.Delete)
			r.Put("/language", sessionHandler.SetLanguage)
			r.Post("/image", sessionHandler.UploadImage)
			r.With(analyzeLimiter.Middleware).Post("/analyze", sessionHandler.Analyze)
			r.Post("/chat/messages", sessionHandler.SendChat)
			r.Delete("/chat", sessionHandler.ClearChat)
			r.Post("/audio/toggle", sessionHandler.ToggleAudio)
			r.Post("/reset", sessionHandler.Reset)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
