package sandbox

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stayhub/stayhub-core/internal/middleware"
	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
)

// RouterConfig wires the sandbox API.
type RouterConfig struct {
	Service        *Service
	JWT            *jwt.Service
	CSRF           *middleware.CSRF
	Idempotency    IdempotencyStore
	BookingLimiter middleware.Limiter
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the sandbox HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Service, cfg.JWT, cfg.CSRF)
	if cfg.Idempotency == nil {
		cfg.Idempotency = NewMemoryIdempotencyStore(24 * time.Hour)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", h.CSRFToken)
		r.With(cfg.CSRF.Protect).Post("/token", h.Token)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(middleware.Auth(cfg.JWT))
		r.Use(cfg.CSRF.Protect)
		r.Use(Idempotency(cfg.Idempotency))

		r.Route("/bookings", func(r chi.Router) {
			if cfg.BookingLimiter != nil {
				r.With(middleware.RateLimit(cfg.BookingLimiter, "bookings")).Post("/", h.CreateBooking)
			} else {
				r.Post("/", h.CreateBooking)
			}
			r.Get("/{id}", h.GetBooking)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/create-order", h.CreateOrder)
			r.Post("/verify", h.Verify)
		})
	})

	return r
}
