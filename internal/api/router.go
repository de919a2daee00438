package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/rpc"
)

// NewRouter creates the HTTP router. The whole service surface is one
// JSON-RPC endpoint plus a health check.
func NewRouter(cfg *config.Config, dispatcher *rpc.Dispatcher, log *logrus.Entry) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// The RPC endpoint sits behind a per-IP limiter: linking codes are
	// short and guessable only by volume.
	limiter := NewRateLimiter(rate.Limit(5), 10)
	limiter.CleanupOldLimiters()

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter))
		r.Post("/rpc", HandleRPC(dispatcher, log))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
