package usecases

import (
	"context"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
)

// AuditService reads the append-only sync run log.
type AuditService struct {
	runs ports.SyncRunRepository
}

func NewAuditService(runs ports.SyncRunRepository) *AuditService {
	return &AuditService{runs: runs}
}

// ListRecent returns the latest runs, newest first, optionally filtered by
// dataset kind (empty kind means all). limit is clamped to [1, 100].
func (s *AuditService) ListRecent(ctx context.Context, kind domain.DatasetKind, limit int) ([]domain.SyncRun, error) {
	if kind != "" && !kind.Valid() {
		return nil, domain.ErrNotFound
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	runs, err := s.runs.ListRecent(ctx, kind, limit)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return runs, nil
}

// LastSuccessful returns the most recent successful run for a kind, or
// ErrNotFound when the kind has never synced successfully.
func (s *AuditService) LastSuccessful(ctx context.Context, kind domain.DatasetKind) (*domain.SyncRun, error) {
	if !kind.Valid() {
		return nil, domain.ErrNotFound
	}
	run, err := s.runs.LastSuccessful(ctx, kind)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return run, nil
}
