package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
)

const defaultSyncWorkers = 8

// SyncService reconciles batches of externally-sourced geo entities into the
// local store and records every attempt in the audit log. Per-record failures
// are counted and never abort a batch; partial success is the normal case.
type SyncService struct {
	entities ports.GeoEntityRepository
	cells    *CellService
	runs     ports.SyncRunRepository
	events   ports.EventPublisher
	clock    ports.Clock
	workers  int
}

// NewSyncService creates a new SyncService. events may be nil; a nil clock
// selects the wall clock; workers <= 0 selects the default pool size.
func NewSyncService(entities ports.GeoEntityRepository, cells *CellService, runs ports.SyncRunRepository, events ports.EventPublisher, clock ports.Clock, workers int) *SyncService {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if workers <= 0 {
		workers = defaultSyncWorkers
	}
	return &SyncService{entities: entities, cells: cells, runs: runs, events: events, clock: clock, workers: workers}
}

type recordOutcome int

const (
	outcomeUnchanged recordOutcome = iota
	outcomeInserted
	outcomeUpdated
)

// Reconcile upserts one dataset batch by external identifier and returns the
// closed SyncRun. The run is persisted unconditionally — including total
// failure — so callers inspect counts rather than a boolean. Records are
// processed by a bounded worker pool; processing order is not observable.
func (s *SyncService) Reconcile(ctx context.Context, kind domain.DatasetKind, batch []domain.RawExternalRecord) (*domain.SyncRun, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown dataset kind %q", domain.ErrNotFound, kind)
	}

	run := &domain.SyncRun{
		Kind:      kind,
		Status:    domain.SyncRunning,
		Total:     len(batch),
		StartedAt: s.clock.Now(),
	}

	var inserted, updated, errored atomic.Int64
	var mu sync.Mutex
	var firstErr string

	recordErr := func(rec domain.RawExternalRecord, err error) {
		errored.Add(1)
		mu.Lock()
		if firstErr == "" {
			firstErr = fmt.Sprintf("%s: %v", rec.ExternalID, err)
		}
		mu.Unlock()
		slog.Warn("sync record failed", "kind", kind, "external_id", rec.ExternalID, "error", err)
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for _, rec := range batch {
		wg.Add(1)
		go func(rec domain.RawExternalRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				recordErr(rec, domain.MapDeadline(ctx.Err()))
				return
			}

			outcome, err := s.reconcileRecord(ctx, kind, rec)
			if err != nil {
				recordErr(rec, err)
				return
			}
			switch outcome {
			case outcomeInserted:
				inserted.Add(1)
			case outcomeUpdated:
				updated.Add(1)
			}
		}(rec)
	}
	wg.Wait()

	run.Inserted = int(inserted.Load())
	run.Updated = int(updated.Load())
	run.Errored = int(errored.Load())
	run.ErrorMessage = firstErr

	var structural error
	if err := domain.MapDeadline(ctx.Err()); err != nil {
		structural = err
		run.ErrorMessage = err.Error()
	}

	s.close(run, structural)

	// The audit trail must reflect attempted work even when the caller's
	// deadline already expired.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.runs.Record(recordCtx, run); err != nil {
		slog.Error("sync run not recorded", "kind", kind, "status", run.Status, "error", err)
		if structural == nil {
			structural = fmt.Errorf("record sync run: %w", err)
		}
	}

	if s.events != nil {
		if err := s.events.PublishSyncCompleted(recordCtx, run); err != nil {
			slog.Warn("sync completed event publish failed", "kind", kind, "error", err)
		}
	}

	slog.Info("sync run closed",
		"kind", kind, "status", run.Status, "total", run.Total,
		"inserted", run.Inserted, "updated", run.Updated, "errored", run.Errored,
		"duration_ms", run.DurationMs)

	return run, structural
}

// close moves the run from running to its terminal state. A batch that fails
// every record is failed; anything less is success.
func (s *SyncService) close(run *domain.SyncRun, structural error) {
	run.EndedAt = s.clock.Now()
	run.DurationMs = run.EndedAt.Sub(run.StartedAt).Milliseconds()

	switch {
	case structural != nil:
		run.Status = domain.SyncFailed
	case run.Total > 0 && run.Errored == run.Total:
		run.Status = domain.SyncFailed
	default:
		run.Status = domain.SyncSuccess
	}
}

func (s *SyncService) reconcileRecord(ctx context.Context, kind domain.DatasetKind, rec domain.RawExternalRecord) (recordOutcome, error) {
	if rec.ExternalID == "" {
		return outcomeUnchanged, errors.New("missing external id")
	}

	coord := domain.Coordinate{Lat: rec.Lat, Lon: rec.Lon}
	cell, err := s.cells.EnsureAt(ctx, coord)
	if err != nil {
		return outcomeUnchanged, err
	}

	existing, err := s.entities.GetByExternalID(ctx, kind, rec.ExternalID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		entity := &domain.GeoEntity{
			Kind:         kind,
			ExternalID:   rec.ExternalID,
			Name:         rec.Name,
			Location:     coord,
			CellID:       cell.CellID,
			Metadata:     rec.Metadata,
			LastSyncedAt: s.clock.Now(),
		}
		if err := s.entities.Insert(ctx, entity); err != nil {
			return outcomeUnchanged, domain.MapDeadline(fmt.Errorf("insert: %w", err))
		}
		return outcomeInserted, nil

	case err != nil:
		return outcomeUnchanged, domain.MapDeadline(fmt.Errorf("lookup: %w", err))
	}

	if !entityDiffers(existing, rec, cell.CellID) {
		return outcomeUnchanged, nil
	}

	existing.Name = rec.Name
	existing.Location = coord
	existing.CellID = cell.CellID
	existing.Metadata = rec.Metadata
	existing.LastSyncedAt = s.clock.Now()
	if err := s.entities.Update(ctx, existing); err != nil {
		return outcomeUnchanged, domain.MapDeadline(fmt.Errorf("update: %w", err))
	}
	return outcomeUpdated, nil
}

func entityDiffers(e *domain.GeoEntity, rec domain.RawExternalRecord, cellID string) bool {
	if e.Name != rec.Name || e.CellID != cellID {
		return true
	}
	if e.Location.Lat != rec.Lat || e.Location.Lon != rec.Lon {
		return true
	}
	if len(e.Metadata) != len(rec.Metadata) {
		return true
	}
	return len(rec.Metadata) > 0 && !reflect.DeepEqual(e.Metadata, rec.Metadata)
}

// EntitiesNearby returns entities of a kind within radiusMeters of a point.
func (s *SyncService) EntitiesNearby(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radiusMeters float64, limit int) ([]domain.GeoEntity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown dataset kind %q", domain.ErrNotFound, kind)
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 || radiusMeters > 10000 {
		radiusMeters = 1000
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entities, err := s.entities.FindNearby(ctx, kind, center, radiusMeters, limit)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return entities, nil
}

// EntitiesInCell returns entities of a kind attached to one grid cell.
func (s *SyncService) EntitiesInCell(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown dataset kind %q", domain.ErrNotFound, kind)
	}
	entities, err := s.entities.ListByCell(ctx, kind, cellID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return entities, nil
}

// DatasetStatus returns per-kind entity counts for the status endpoint.
func (s *SyncService) DatasetStatus(ctx context.Context) (map[domain.DatasetKind]int, error) {
	counts, err := s.entities.CountByKind(ctx)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return counts, nil
}
