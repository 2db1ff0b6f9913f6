package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/townin/geocore/internal/core/domain"
)

// HubRepo implements ports.HubRepository with pgx.
type HubRepo struct {
	db *DB
}

// NewHubRepo creates a new HubRepo.
func NewHubRepo(db *DB) *HubRepo {
	return &HubRepo{db: db}
}

// Upsert replaces the (user, category) row in a single statement, so the
// at-most-one-hub-per-category invariant holds even under concurrent writes.
// The unique index on (user_id, category) backs the ON CONFLICT arbiter.
func (r *HubRepo) Upsert(ctx context.Context, h *domain.HubLocation) (*domain.HubLocation, error) {
	tags, err := json.Marshal(h.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	stored := &domain.HubLocation{}
	var tagsJSON []byte
	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO hub_locations (user_id, category, cell_id, region_id, label, is_primary, tags)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (user_id, category) DO UPDATE
		SET cell_id = EXCLUDED.cell_id,
		    region_id = EXCLUDED.region_id,
		    label = EXCLUDED.label,
		    is_primary = EXCLUDED.is_primary,
		    tags = EXCLUDED.tags,
		    updated_at = now()
		RETURNING id, user_id, category, cell_id, region_id,
		          COALESCE(label, ''), is_primary, COALESCE(tags, '{}'),
		          created_at, updated_at
	`, h.UserID, h.Category, h.CellID, h.RegionID, h.Label, h.Primary, tags).Scan(
		&stored.ID, &stored.UserID, &stored.Category, &stored.CellID, &stored.RegionID,
		&stored.Label, &stored.Primary, &tagsJSON,
		&stored.CreatedAt, &stored.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &stored.Tags)
	}
	stored.Centroid = h.Centroid
	return stored, nil
}

// ListByUser returns the user's hubs joined with their cell centroids.
func (r *HubRepo) ListByUser(ctx context.Context, userID string) ([]domain.HubLocation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT h.id, h.user_id, h.category, h.cell_id, h.region_id,
		       COALESCE(h.label, ''), h.is_primary, COALESCE(h.tags, '{}'),
		       ST_Y(c.centroid::geometry) as lat,
		       ST_X(c.centroid::geometry) as lon,
		       h.created_at, h.updated_at
		FROM hub_locations h
		JOIN grid_cells c ON c.cell_id = h.cell_id
		WHERE h.user_id = $1
		ORDER BY h.category
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hubs []domain.HubLocation
	for rows.Next() {
		var h domain.HubLocation
		var tagsJSON []byte
		var centroid domain.Coordinate
		if err := rows.Scan(
			&h.ID, &h.UserID, &h.Category, &h.CellID, &h.RegionID,
			&h.Label, &h.Primary, &tagsJSON,
			&centroid.Lat, &centroid.Lon,
			&h.CreatedAt, &h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(tagsJSON) > 0 {
			_ = json.Unmarshal(tagsJSON, &h.Tags)
		}
		h.Centroid = &centroid
		hubs = append(hubs, h)
	}
	return hubs, rows.Err()
}

// Delete removes the user's hub for a category.
func (r *HubRepo) Delete(ctx context.Context, userID string, category domain.HubCategory) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM hub_locations WHERE user_id = $1 AND category = $2
	`, userID, category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: hub (%s, %s)", domain.ErrNotFound, userID, category)
	}
	return nil
}
