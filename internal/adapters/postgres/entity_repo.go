package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/pkg/geospatial"
)

// EntityRepo implements ports.GeoEntityRepository with pgx.
// The unique index on (kind, external_id) backs reconciliation idempotence.
type EntityRepo struct {
	db *DB
}

// NewEntityRepo creates a new EntityRepo.
func NewEntityRepo(db *DB) *EntityRepo {
	return &EntityRepo{db: db}
}

const entityColumns = `
	id, kind, external_id, name,
	ST_Y(location::geometry) as lat,
	ST_X(location::geometry) as lon,
	cell_id, region_id, COALESCE(metadata, '{}'),
	last_synced_at, created_at, updated_at`

// GetByExternalID returns one entity by its upstream identifier.
func (r *EntityRepo) GetByExternalID(ctx context.Context, kind domain.DatasetKind, externalID string) (*domain.GeoEntity, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM geo_entities WHERE kind = $1 AND external_id = $2
	`, kind, externalID)
	e, err := scanEntity(row, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, externalID)
	}
	return e, err
}

// Insert creates a new entity row.
func (r *EntityRepo) Insert(ctx context.Context, e *domain.GeoEntity) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO geo_entities (kind, external_id, name, location, cell_id, region_id, metadata, last_synced_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, e.Kind, e.ExternalID, e.Name, e.Location.Lon, e.Location.Lat,
		e.CellID, e.RegionID, metadata, e.LastSyncedAt).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update rewrites the mutable columns of an existing entity.
func (r *EntityRepo) Update(ctx context.Context, e *domain.GeoEntity) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE geo_entities
		SET name = $3,
		    location = ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography,
		    cell_id = $6, region_id = $7, metadata = $8,
		    last_synced_at = $9, updated_at = now()
		WHERE kind = $1 AND external_id = $2
	`, e.Kind, e.ExternalID, e.Name, e.Location.Lon, e.Location.Lat,
		e.CellID, e.RegionID, metadata, e.LastSyncedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, e.Kind, e.ExternalID)
	}
	return nil
}

// FindNearby returns entities within radiusMeters using PostGIS ST_DWithin,
// closest first. A bounding-box envelope narrows the GIST index scan before
// the exact geography distance check.
func (r *EntityRepo) FindNearby(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radiusMeters float64, limit int) ([]domain.GeoEntity, error) {
	box := geospatial.BoundingBox(center, radiusMeters)
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+entityColumns+`,
		       ST_Distance(location, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography) as distance
		FROM geo_entities
		WHERE kind = $1
		  AND location && ST_MakeEnvelope($6, $7, $8, $9, 4326)
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4)
		ORDER BY distance
		LIMIT $5
	`, kind, center.Lon, center.Lat, radiusMeters, limit,
		box.MinLon, box.MinLat, box.MaxLon, box.MaxLat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows, true)
}

// ListByCell returns all entities of a kind attached to one grid cell.
func (r *EntityRepo) ListByCell(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM geo_entities
		WHERE kind = $1 AND cell_id = $2
		ORDER BY name
	`, kind, cellID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows, false)
}

// CountByKind returns entity counts per dataset kind.
func (r *EntityRepo) CountByKind(ctx context.Context) (map[domain.DatasetKind]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT kind, count(*) FROM geo_entities GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.DatasetKind]int, 3)
	for rows.Next() {
		var kind domain.DatasetKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func collectEntities(rows pgx.Rows, withDistance bool) ([]domain.GeoEntity, error) {
	var entities []domain.GeoEntity
	for rows.Next() {
		e, err := scanEntity(rows, withDistance)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanEntity(row pgx.Row, withDistance bool) (*domain.GeoEntity, error) {
	var e domain.GeoEntity
	var metadataJSON []byte
	dest := []any{
		&e.ID, &e.Kind, &e.ExternalID, &e.Name,
		&e.Location.Lat, &e.Location.Lon,
		&e.CellID, &e.RegionID, &metadataJSON,
		&e.LastSyncedAt, &e.CreatedAt, &e.UpdatedAt,
	}
	var dist float64
	if withDistance {
		dest = append(dest, &dist)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if withDistance {
		e.Distance = &dist
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
	}
	return &e, nil
}
