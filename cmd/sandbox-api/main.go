package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stayhub/stayhub-core/internal/config"
	"github.com/stayhub/stayhub-core/internal/middleware"
	"github.com/stayhub/stayhub-core/internal/pkg/database"
	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/sandbox"
)

// demoRooms are bookable in every sandbox instance.
var demoRooms = []sandbox.Room{
	{ID: "room-101", Title: "Single room, Koramangala", RentPerMonth: 10000, SecurityDeposit: 5000},
	{ID: "room-102", Title: "Shared room, HSR Layout", RentPerMonth: 6500, SecurityDeposit: 0},
	{ID: "room-201", Title: "Studio, Indiranagar", RentPerMonth: 18000, SecurityDeposit: 36000},
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting StayHub sandbox API")

	ctx := context.Background()

	repo := sandbox.Repository(sandbox.NewMemoryRepository())
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolConfig{})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		if err := sandbox.EnsureSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare schema")
		}
		repo = sandbox.NewPostgresRepository(db)
	}

	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	idem, limiter := stores(cfg, rdb)

	if cfg.IsProduction() && cfg.GatewayKeySecret == "sandbox-secret" {
		log.Warn().Msg("Using the default gateway secret in production")
	}
	svc := sandbox.NewService(repo, sandbox.ServiceConfig{
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		Currency:  cfg.Currency,
	})
	for _, room := range demoRooms {
		svc.AddRoom(room)
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	csrf := middleware.NewCSRF(cfg.JWTSecret+":csrf", time.Hour)

	r := chi.NewRouter()
	r.Mount("/api/v1", sandbox.NewRouter(sandbox.RouterConfig{
		Service:        svc,
		JWT:            jwtService,
		CSRF:           csrf,
		Idempotency:    idem,
		BookingLimiter: limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 30 * time.Second,
	}))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	log.Info().Msg("Server exited properly")
}

// stores picks Redis-backed idempotency and rate limiting when Redis is
// configured, in-memory otherwise.
func stores(cfg *config.Config, rdb *redis.Client) (sandbox.IdempotencyStore, middleware.Limiter) {
	var limiter middleware.Limiter
	if rdb == nil {
		if cfg.RateLimit > 0 {
			limiter = middleware.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow)
		}
		return sandbox.NewMemoryIdempotencyStore(cfg.IdempotencyTTL), limiter
	}
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRedisLimiter(rdb, "stayhub:", cfg.RateLimit, cfg.RateWindow)
	}
	return sandbox.NewRedisIdempotencyStore(rdb, "stayhub:", cfg.IdempotencyTTL), limiter
}
