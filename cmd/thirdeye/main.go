// Third Eye server: validates AI-agent work envelopes through the eye
// pipeline and serves the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/third-eye/thirdeye/pkg/api"
	"github.com/third-eye/thirdeye/pkg/auth"
	"github.com/third-eye/thirdeye/pkg/bus"
	"github.com/third-eye/thirdeye/pkg/cleanup"
	"github.com/third-eye/thirdeye/pkg/config"
	"github.com/third-eye/thirdeye/pkg/database"
	"github.com/third-eye/thirdeye/pkg/eyes"
	"github.com/third-eye/thirdeye/pkg/metrics"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/overseer"
	"github.com/third-eye/thirdeye/pkg/provider"
	"github.com/third-eye/thirdeye/pkg/quota"
	"github.com/third-eye/thirdeye/pkg/session"
	"github.com/third-eye/thirdeye/pkg/store"
	"github.com/third-eye/thirdeye/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() {
	level := slog.LevelInfo
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		_ = level.UnmarshalText([]byte(raw))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", ""),
		"Path to the YAML configuration file (optional; defaults apply)")
	flag.Parse()

	setupLogging()
	slog.Info("starting third-eye", "version", version.Full(), "config", *configPath)

	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database and persistence are optional: without them the service
	// still answers direct invocations, but authenticated endpoints have
	// no key store to verify against.
	var dbClient *database.Client
	var persistence *store.Store
	if cfg.Database.URL != "" {
		dbClient, err = database.NewClient(ctx, database.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime.AsDuration(),
		})
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("error closing database client", "error", err)
			}
		}()
		persistence = store.New(dbClient.DB())
		slog.Info("connected to postgres")

		if err := seedAdminAccount(ctx, persistence); err != nil {
			slog.Error("failed to seed admin account", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no database configured, running without persistence")
	}

	// The result cache is optional too; a nil cache is a no-op.
	var resultCache *store.ResultCache
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		resultCache = store.NewResultCache(redisClient, cfg.Redis.TTL.AsDuration())
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr)
	}

	// Without provider credentials the heuristic eyes keep working while
	// routing and the LLM eyes report E_LLM_ERROR.
	var llm *provider.Client
	if cfg.Provider.APIKey != "" {
		llm = provider.New(cfg.Provider)
		slog.Info("llm provider configured", "model", cfg.Provider.Model)
	} else {
		slog.Warn("no provider api key, llm-backed eyes unavailable")
	}

	registry := eyes.NewRegistry(eyes.WithInvokeTimeout(cfg.Pipeline.EyeTimeout.AsDuration()))
	if llm != nil {
		eyes.RegisterAll(registry, llm)
	} else {
		registry.Register(eyes.NewSharingan())
	}

	sessions := session.NewStore(session.WithTTL(cfg.Session.TTL.AsDuration()))
	events := bus.New()
	quotas := quota.NewManager(quota.WithDefaultLimit(cfg.Quota.DefaultPerMinute))

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	janitor := cleanup.NewService(sessions, snapshotReclaimer(persistence),
		cfg.Session.TTL.AsDuration(), cfg.Session.CleanupInterval.AsDuration())
	janitor.Start(ctx)
	defer janitor.Stop()

	ov := overseer.New(registry, llm, events, sessions,
		overseer.WithMetrics(m),
		overseer.WithResultCache(resultCache))

	srv := api.NewServer(api.Deps{
		Config:   cfg.Server,
		Registry: registry,
		Overseer: ov,
		Events:   events,
		Sessions: sessions,
		Quota:    quotas,
		Store:    apiPersistence(persistence),
		DB:       dbClient,
		Provider: llm,
		Metrics:  m,
		Gatherer: promReg,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// seedAdminAccount bootstraps the control-plane login from the environment
// on first start. Existing accounts are overwritten so a lost password can
// be rotated by restarting with new credentials.
func seedAdminAccount(ctx context.Context, persistence *store.Store) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := persistence.UpsertAdminAccount(ctx, models.AdminAccount{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}); err != nil {
		return err
	}
	slog.Info("admin account seeded", "email", email)
	return nil
}

// snapshotReclaimer converts the typed nil into an interface nil so the
// cleanup service's nil check works.
func snapshotReclaimer(persistence *store.Store) cleanup.SnapshotReclaimer {
	if persistence == nil {
		return nil
	}
	return persistence
}

// apiPersistence does the same for the API's store dependency.
func apiPersistence(persistence *store.Store) api.Persistence {
	if persistence == nil {
		return nil
	}
	return persistence
}
