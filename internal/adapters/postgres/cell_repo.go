package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/townin/geocore/internal/core/domain"
)

// CellRepo implements ports.GridCellRepository with pgx.
type CellRepo struct {
	db *DB
}

// NewCellRepo creates a new CellRepo.
func NewCellRepo(db *DB) *CellRepo {
	return &CellRepo{db: db}
}

// Insert creates the cell row. The unique index on cell_id is the final
// arbiter of the one-row-per-cell invariant; a lost race reports
// inserted=false instead of an error.
func (r *CellRepo) Insert(ctx context.Context, c *domain.GridCell) (bool, error) {
	boundary, err := ringToWKT(c.Boundary)
	if err != nil {
		return false, fmt.Errorf("encode boundary: %w", err)
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO grid_cells (cell_id, resolution, centroid, boundary, is_active, tags)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography,
		        ST_GeogFromText($5), $6, $7)
		ON CONFLICT (cell_id) DO NOTHING
	`, c.CellID, c.Resolution, c.Centroid.Lon, c.Centroid.Lat, boundary, c.Active, tags)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID returns a cell by its grid identifier.
func (r *CellRepo) GetByID(ctx context.Context, cellID string) (*domain.GridCell, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT cell_id, resolution,
		       ST_Y(centroid::geometry) as lat,
		       ST_X(centroid::geometry) as lon,
		       ST_AsGeoJSON(boundary::geometry) as boundary,
		       COALESCE(province, ''), COALESCE(city, ''), COALESCE(district, ''),
		       region_id, COALESCE(property_value_tier, 0), COALESCE(population_density, 0),
		       is_active, COALESCE(tags, '{}'), created_at, updated_at
		FROM grid_cells WHERE cell_id = $1
	`, cellID)
	cell, err := scanCell(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: cell %s", domain.ErrNotFound, cellID)
	}
	return cell, err
}

// Annotate updates the administrative fields of an existing cell.
// Geometry and identity columns are never touched.
func (r *CellRepo) Annotate(ctx context.Context, cellID string, ann domain.CellAnnotation) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE grid_cells
		SET province = NULLIF($2, ''), city = NULLIF($3, ''), district = NULLIF($4, ''),
		    region_id = COALESCE($5, region_id),
		    property_value_tier = NULLIF($6, 0),
		    population_density = NULLIF($7, 0),
		    updated_at = now()
		WHERE cell_id = $1
	`, cellID, ann.Province, ann.City, ann.District, ann.RegionID,
		ann.PropertyValueTier, ann.PopulationDensity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cell %s", domain.ErrNotFound, cellID)
	}
	return nil
}

// Deactivate soft-retires a cell. Rows are never deleted.
func (r *CellRepo) Deactivate(ctx context.Context, cellID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE grid_cells SET is_active = false, updated_at = now() WHERE cell_id = $1
	`, cellID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cell %s", domain.ErrNotFound, cellID)
	}
	return nil
}

// ListInBounds returns active cells whose centroid falls inside the box.
func (r *CellRepo) ListInBounds(ctx context.Context, b domain.Bounds, limit int) ([]domain.GridCell, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT cell_id, resolution,
		       ST_Y(centroid::geometry) as lat,
		       ST_X(centroid::geometry) as lon,
		       ST_AsGeoJSON(boundary::geometry) as boundary,
		       COALESCE(province, ''), COALESCE(city, ''), COALESCE(district, ''),
		       region_id, COALESCE(property_value_tier, 0), COALESCE(population_density, 0),
		       is_active, COALESCE(tags, '{}'), created_at, updated_at
		FROM grid_cells
		WHERE is_active
		  AND centroid::geometry && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY cell_id
		LIMIT $5
	`, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []domain.GridCell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, *cell)
	}
	return cells, rows.Err()
}

func scanCell(row pgx.Row) (*domain.GridCell, error) {
	var c domain.GridCell
	var boundaryJSON, tagsJSON []byte
	err := row.Scan(
		&c.CellID, &c.Resolution,
		&c.Centroid.Lat, &c.Centroid.Lon,
		&boundaryJSON,
		&c.Province, &c.City, &c.District,
		&c.RegionID, &c.PropertyValueTier, &c.PopulationDensity,
		&c.Active, &tagsJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ring, err := geoJSONToRing(boundaryJSON); err == nil {
		c.Boundary = ring
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &c.Tags)
	}
	return &c, nil
}

// ringToWKT encodes a closed boundary ring as a POLYGON literal for
// ST_GeogFromText.
func ringToWKT(ring domain.Ring) (string, error) {
	if len(ring) < 4 || !ring.Closed() {
		return "", fmt.Errorf("boundary must be a closed ring, got %d vertices", len(ring))
	}
	wkt := "POLYGON(("
	for i, v := range ring {
		if i > 0 {
			wkt += ", "
		}
		wkt += fmt.Sprintf("%.8f %.8f", v.Lon, v.Lat)
	}
	return wkt + "))", nil
}

// geoJSONToRing decodes the outer ring of a GeoJSON polygon.
func geoJSONToRing(data []byte) (domain.Ring, error) {
	var gj struct {
		Coordinates [][][2]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &gj); err != nil {
		return nil, err
	}
	if len(gj.Coordinates) == 0 {
		return nil, fmt.Errorf("empty polygon")
	}
	ring := make(domain.Ring, 0, len(gj.Coordinates[0]))
	for _, pt := range gj.Coordinates[0] {
		ring = append(ring, domain.Coordinate{Lon: pt[0], Lat: pt[1]})
	}
	return ring, nil
}
