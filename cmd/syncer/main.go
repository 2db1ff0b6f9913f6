package main

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"

	natsadapter "github.com/townin/geocore/internal/adapters/nats"
	"github.com/townin/geocore/internal/adapters/postgres"
	"github.com/townin/geocore/internal/adapters/source"
	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
	"github.com/townin/geocore/internal/pkg/config"
	"github.com/townin/geocore/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("geocore-syncer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup("geocore-syncer", "info", "text")

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Broker is optional for a one-shot sync.
	var events ports.EventPublisher
	if nc, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		log.Printf("nats unavailable, sync events disabled: %v", err)
	} else {
		events = nc
		defer nc.Close()
	}

	cellSvc := usecases.NewCellService(postgres.NewCellRepo(db), nil, cfg.Geo.Resolution)
	syncSvc := usecases.NewSyncService(postgres.NewEntityRepo(db), cellSvc,
		postgres.NewSyncRunRepo(db), events, ports.RealClock{}, cfg.Sync.Workers)

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	src, err := source.Load(manifestPath)
	if err != nil {
		log.Fatalf("manifest: %v", err)
	}

	// Optional CLI arg: comma-separated kind filter
	kindFilter := map[string]bool{}
	if len(os.Args) > 2 {
		for _, k := range strings.Split(os.Args[2], ",") {
			kindFilter[strings.TrimSpace(k)] = true
		}
	}

	log.Printf("GeoCore syncer — %d datasets from %s", len(src.Datasets()), manifestPath)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 2) // max 2 datasets at once

	for _, k := range src.Datasets() {
		if len(kindFilter) > 0 && !kindFilter[k] {
			continue
		}
		kind := domain.DatasetKind(k)
		if !kind.Valid() {
			log.Printf("skipping unknown dataset kind %q", k)
			continue
		}

		wg.Add(1)
		go func(kind domain.DatasetKind) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := syncDataset(ctx, src, syncSvc, kind); err != nil {
				log.Printf("ERROR [%s]: %v", kind, err)
			}
		}(kind)
	}

	wg.Wait()
	log.Println("sync complete")
}

func syncDataset(ctx context.Context, src *source.ManifestSource, svc *usecases.SyncService, kind domain.DatasetKind) error {
	batch, err := src.Fetch(ctx, kind)
	if err != nil {
		return err
	}
	log.Printf("[%s] fetched %d records", kind, len(batch))

	run, err := svc.Reconcile(ctx, kind, batch)
	if run != nil {
		log.Printf("[%s] run %s: %s inserted=%d updated=%d errored=%d in %dms",
			kind, run.ID, run.Status, run.Inserted, run.Updated, run.Errored, run.DurationMs)
	}
	return err
}
