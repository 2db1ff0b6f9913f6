package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/townin/geocore/internal/adapters/nats"
	"github.com/townin/geocore/internal/adapters/postgres"
	"github.com/townin/geocore/internal/adapters/source"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
	"github.com/townin/geocore/internal/pkg/config"
	"github.com/townin/geocore/internal/pkg/logging"
	"github.com/townin/geocore/internal/workflows"
)

func main() {
	cfg, err := config.Load("geocore-scheduler")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("geocore-scheduler", "info", "json")

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	var events ports.EventPublisher
	if nc, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		log.Printf("nats unavailable, sync events disabled: %v", err)
	} else {
		events = nc
		defer nc.Close()
	}

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	src, err := source.Load(manifestPath)
	if err != nil {
		log.Fatalf("manifest: %v", err)
	}

	cellSvc := usecases.NewCellService(postgres.NewCellRepo(db), nil, cfg.Geo.Resolution)
	syncSvc := usecases.NewSyncService(postgres.NewEntityRepo(db), cellSvc,
		postgres.NewSyncRunRepo(db), events, ports.RealClock{}, cfg.Sync.Workers)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.SyncWorkflow)
	w.RegisterWorkflow(workflows.SyncAllWorkflow)
	w.RegisterActivity(&workflows.SyncActivities{
		Sync:   syncSvc,
		Source: src,
	})

	// Recurring full sync. The fixed workflow id makes restarts idempotent:
	// starting an already-running cron schedule is rejected, not duplicated.
	_, err = c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           "geocore-sync-cron",
		TaskQueue:    cfg.Temporal.TaskQueue,
		CronSchedule: fmt.Sprintf("@every %dm", cfg.Sync.IntervalMinutes),
	}, workflows.SyncAllWorkflow)
	if err != nil {
		log.Printf("cron workflow start: %v (may already be scheduled)", err)
	}

	log.Println("scheduler worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
