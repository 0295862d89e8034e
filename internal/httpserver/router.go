package httpserver

import (
	"net/http"

	"vgpt/internal/middleware"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Logger      *slog.Logger
	Chat        *ChatHandler
	RateLimiter *middleware.Limiter
}

// NewRouter собирает chi-роутер с общими middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Get("/", deps.Chat.Page)
	r.Get("/chat/", deps.Chat.Page)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.RateLimiter, writeRateLimited))
		// Старые клиенты ходят на /api/chatbot_response/ со слешем.
		r.Use(chimiddleware.StripSlashes)
		r.Get("/chatbot_response", deps.Chat.Respond)
		r.Get("/greeting", deps.Chat.Greeting)
		r.Post("/session", deps.Chat.NewSession)
		r.Delete("/session/{sessionID}", deps.Chat.EndSession)
	})

	return r
}
