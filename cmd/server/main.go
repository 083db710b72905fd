package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xhclintohn/9bot-pair-server/internal/config"
	"github.com/xhclintohn/9bot-pair-server/internal/database"
	"github.com/xhclintohn/9bot-pair-server/internal/deploy"
	"github.com/xhclintohn/9bot-pair-server/internal/handler"
	"github.com/xhclintohn/9bot-pair-server/internal/jobs"
	"github.com/xhclintohn/9bot-pair-server/internal/middleware"
	"github.com/xhclintohn/9bot-pair-server/internal/redis"
	"github.com/xhclintohn/9bot-pair-server/internal/registry"
	"github.com/xhclintohn/9bot-pair-server/internal/repository"
	"github.com/xhclintohn/9bot-pair-server/internal/service"
	"github.com/xhclintohn/9bot-pair-server/internal/wa"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Status store is optional: without DATABASE_URL the registry alone
	// answers /status, and history is lost on restart.
	store := repository.NewNoopSessionRecordRepository()
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		store = repository.NewSessionRecordRepository(db.DB)
	} else {
		log.Warn().Msg("DATABASE_URL not set, session status will not survive restarts")
	}

	// Redis is optional too: without it the pair rate limit is per-process.
	var limiter middleware.Limiter = middleware.NewMemoryRateLimiter()
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		limiter = service.NewRateLimiter(redisClient.Client)
	}

	pipeline := deploy.NewDisabled()
	if cfg.GithubToken != "" && cfg.GithubRepo != "" && cfg.HerokuAPIKey != "" {
		pipeline, err = deploy.New(deploy.Config{
			GithubToken:   cfg.GithubToken,
			GithubRepo:    cfg.GithubRepo,
			GithubBranch:  cfg.GithubBranch,
			HerokuAPIKey:  cfg.HerokuAPIKey,
			AppNamePrefix: cfg.AppNamePrefix,
			Timeout:       cfg.DeployTimeout(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("invalid deploy config")
		}
	} else {
		log.Warn().Msg("deploy credentials not set, sessions will pair but not deploy")
	}

	gateway := wa.NewGateway(cfg.CredDir, log.Logger)
	reg := registry.New()

	manager := service.NewManager(reg, gateway, pipeline, store, service.Options{
		PhoneMinDigits: cfg.PhoneMinDigits,
		PairExpiry:     cfg.PairExpiry(),
		ConnectTimeout: cfg.ConnectTimeout(),
		DeployTimeout:  cfg.DeployTimeout(),
	})

	pairHandler := handler.NewPairHandler(manager)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminToken)
	adminHandler := handler.NewAdminHandler(manager, adminAuth)

	pairRateLimit := middleware.NewIPRateLimitMiddleware(
		limiter, cfg.PairRateLimit, cfg.PairRateWindow(), "pair",
	)
	bodyLimit := middleware.NewBodyLimitMiddleware(cfg.BodyLimitBytes)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimit.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.With(pairRateLimit.Handler).Post("/pair", pairHandler.Pair)
	r.Get("/status/{sessionID}", pairHandler.Status)
	r.Mount("/admin", adminHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(
		reg, store, cfg.CleanupInterval(), cfg.SessionGrace(), cfg.StatusRetention(),
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// /pair blocks until the code arrives, so no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Fail the sessions still pairing and wait for in-flight deploys.
	manager.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
