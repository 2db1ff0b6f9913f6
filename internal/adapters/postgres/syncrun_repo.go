package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/townin/geocore/internal/core/domain"
)

// SyncRunRepo implements ports.SyncRunRepository with pgx. The table is
// append-only; there is no UPDATE or DELETE path for closed runs.
type SyncRunRepo struct {
	db *DB
}

// NewSyncRunRepo creates a new SyncRunRepo.
func NewSyncRunRepo(db *DB) *SyncRunRepo {
	return &SyncRunRepo{db: db}
}

// Record appends one closed run to the audit log.
func (r *SyncRunRepo) Record(ctx context.Context, run *domain.SyncRun) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO sync_runs (kind, status, total, inserted, updated, errored,
		                       error_message, started_at, ended_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
		RETURNING id
	`, run.Kind, run.Status, run.Total, run.Inserted, run.Updated, run.Errored,
		run.ErrorMessage, run.StartedAt, run.EndedAt, run.DurationMs).Scan(&run.ID)
}

const syncRunColumns = `
	id, kind, status, total, inserted, updated, errored,
	COALESCE(error_message, ''), started_at, ended_at, duration_ms`

// ListRecent returns the newest runs first, optionally filtered by kind.
func (r *SyncRunRepo) ListRecent(ctx context.Context, kind domain.DatasetKind, limit int) ([]domain.SyncRun, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+syncRunColumns+`
		FROM sync_runs
		WHERE $1 = '' OR kind = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		if err := rows.Scan(
			&run.ID, &run.Kind, &run.Status, &run.Total, &run.Inserted,
			&run.Updated, &run.Errored, &run.ErrorMessage,
			&run.StartedAt, &run.EndedAt, &run.DurationMs,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccessful returns the most recent successful run for a kind.
func (r *SyncRunRepo) LastSuccessful(ctx context.Context, kind domain.DatasetKind) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := r.db.Pool.QueryRow(ctx, `
		SELECT `+syncRunColumns+`
		FROM sync_runs
		WHERE kind = $1 AND status = 'success'
		ORDER BY started_at DESC
		LIMIT 1
	`, kind).Scan(
		&run.ID, &run.Kind, &run.Status, &run.Total, &run.Inserted,
		&run.Updated, &run.Errored, &run.ErrorMessage,
		&run.StartedAt, &run.EndedAt, &run.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no successful %s run", domain.ErrNotFound, kind)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
