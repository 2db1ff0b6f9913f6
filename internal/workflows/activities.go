package workflows

import (
	"context"
	"fmt"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
)

// SyncActivities holds the activity implementations for the sync workflows.
type SyncActivities struct {
	Sync   *usecases.SyncService
	Source ports.BatchSource
}

// FetchBatch pulls one dataset's records from the upstream source.
func (a *SyncActivities) FetchBatch(ctx context.Context, kind domain.DatasetKind) ([]domain.RawExternalRecord, error) {
	if a.Source == nil {
		return nil, fmt.Errorf("no batch source configured for %s", kind)
	}
	batch, err := a.Source.Fetch(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("fetch %s batch: %w", kind, err)
	}
	return batch, nil
}

// ReconcileBatch runs one reconciliation and returns the closed run summary.
// The run is persisted by the service even when reconciliation errors, so the
// summary is reported whenever a run exists.
func (a *SyncActivities) ReconcileBatch(ctx context.Context, kind domain.DatasetKind, batch []domain.RawExternalRecord) (*RunSummary, error) {
	run, err := a.Sync.Reconcile(ctx, kind, batch)
	if run == nil {
		return nil, fmt.Errorf("reconcile %s: %w", kind, err)
	}
	return &RunSummary{
		RunID:    run.ID,
		Status:   run.Status,
		Total:    run.Total,
		Inserted: run.Inserted,
		Updated:  run.Updated,
		Errored:  run.Errored,
	}, nil
}
