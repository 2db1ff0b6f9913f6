package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/townin/geocore/internal/adapters/http"
	natsadapter "github.com/townin/geocore/internal/adapters/nats"
	"github.com/townin/geocore/internal/adapters/postgres"
	"github.com/townin/geocore/internal/adapters/valkey"
	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
	"github.com/townin/geocore/internal/pkg/config"
	"github.com/townin/geocore/internal/pkg/logging"
	"github.com/townin/geocore/internal/pkg/metrics"
	"github.com/townin/geocore/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("geocore-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("geocore-api", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Cache (optional: handlers degrade to direct reads)
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS (optional: events are dropped when the broker is down)
	var events ports.EventPublisher
	nc, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer nc.Close()
		events = nc
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Repos
	cellRepo := postgres.NewCellRepo(db)
	hubRepo := postgres.NewHubRepo(db)
	userRepo := postgres.NewUserRepo(db)
	familyRepo := postgres.NewFamilyRepo(db)
	entityRepo := postgres.NewEntityRepo(db)
	runRepo := postgres.NewSyncRunRepo(db)
	regionRepo := postgres.NewRegionRepo(db)

	// Use cases
	cellSvc := usecases.NewCellService(cellRepo, cacheSvc, cfg.Geo.Resolution)
	hubSvc := usecases.NewHubService(hubRepo, userRepo, cellSvc, events, cacheSvc)
	syncSvc := usecases.NewSyncService(entityRepo, cellSvc, runRepo, events, ports.RealClock{}, cfg.Sync.Workers)
	auditSvc := usecases.NewAuditService(runRepo)
	familySvc := usecases.NewFamilyService(familyRepo, userRepo)

	// Hub changes made by other instances must evict this instance's cache.
	if cacheSvc != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			err = sub.SubscribeHubChanged(ctx, func(ctx context.Context, hub *domain.HubLocation) error {
				return cacheSvc.Delete(ctx, "hubs:user:"+hub.UserID)
			})
			if err != nil {
				slog.Warn("hub change subscription failed", "error", err)
			}
		}
	}

	// Pool gauges for the /metrics endpoint
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UpdateDBPoolMetrics(db.Pool.Stat())
			}
		}
	}()

	deps := &http.Dependencies{
		Cells:   cellSvc,
		Hubs:    hubSvc,
		Sync:    syncSvc,
		Audit:   auditSvc,
		Family:  familySvc,
		Regions: regionRepo,
		NATS:    natsConn,
		DB:      db,
		Cache:   cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    4 * 1024 * 1024, // sync batches can run large
		AppName:      "Townin GeoCore API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.townin.kr",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
