package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churchadmin/internal/audit"
	"churchadmin/internal/config"
	"churchadmin/internal/daemon"
	"churchadmin/internal/dashboard"
	"churchadmin/internal/database"
	"churchadmin/internal/logger"
	"churchadmin/internal/openfga"
	"churchadmin/internal/ratelimit"
	"churchadmin/internal/storage"
	"churchadmin/internal/telemetry"
	"churchadmin/internal/web"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/postgres/v3"
	"github.com/redis/go-redis/v9"
)

const sweepInterval = time.Minute

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.NewConfig()

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	log := logger.New(cfg, nil).Logger
	checks := map[string]web.HealthCheck{}

	// Login throttle
	var throttle web.Throttle
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		throttle = ratelimit.NewRateLimiter(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Info("REDIS_ADDR not set, falling back to in-process login limiter")
	}

	// Audit trail
	var auditStore audit.Store
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		auditStore = db
		checks["database"] = db.Ping
	}
	auditor := audit.NewAuditor(log, auditStore)

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	var checker openfga.Checker
	if cfg.Permission.Authority == dashboard.AuthorityOpenFGA {
		fga, err := openfga.NewClient(cfg.OpenFGA, log)
		if err != nil {
			return err
		}
		if err := fga.Verify(ctx); err != nil {
			return err
		}
		checker = fga
		checks["openfga"] = fga.Verify
	}

	// Browser sessions, optionally shared through postgres
	sessionConfig := fibersession.Config{
		KeyLookup:      "cookie:" + cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		Expiration:     cfg.Session.Expiration,
	}
	var stateStorage fiber.Storage
	if cfg.Session.Storage == "postgres" {
		pg := postgres.New(postgres.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Name,
			Username: cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			Table:    "tbl_dashboard_session",
		})
		defer pg.Close()
		sessionConfig.Storage = pg
		stateStorage = pg
	}

	registry := dashboard.NewRegistry(dashboard.Deps{
		Config:    cfg,
		Logger:    log,
		Telemetry: tel,
		Checker:   checker,
		Storage:   files,
		Auditor:   auditor,
	}, stateStorage)

	daemons := daemon.NewDaemonManager(log)
	daemons.Add("idle-client-sweep", daemon.IdleSweepTask(registry, sweepInterval, cfg.Session.IdleTimeout, log))
	daemons.Start(ctx)

	server := web.New(web.Options{
		Config:    cfg,
		Logger:    log,
		Registry:  registry,
		Sessions:  fibersession.New(sessionConfig),
		Throttle:  throttle,
		Telemetry: tel,
		Storage:   files,
		Checks:    checks,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "host", cfg.Server.Host, "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		errCh <- server.Listen()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	daemons.Wait()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
