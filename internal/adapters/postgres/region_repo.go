package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/townin/geocore/internal/core/domain"
)

// RegionRepo implements ports.RegionRepository with pgx.
type RegionRepo struct {
	db *DB
}

// NewRegionRepo creates a new RegionRepo.
func NewRegionRepo(db *DB) *RegionRepo {
	return &RegionRepo{db: db}
}

const regionColumns = `id, code, name_ko, COALESCE(name_en, ''), level, parent_id, created_at`

// GetByID returns a region by UUID.
func (r *RegionRepo) GetByID(ctx context.Context, id string) (*domain.Region, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx, `
		SELECT `+regionColumns+` FROM regions WHERE id = $1
	`, id), id)
}

// GetByCode returns a region by its administrative code.
func (r *RegionRepo) GetByCode(ctx context.Context, code string) (*domain.Region, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx, `
		SELECT `+regionColumns+` FROM regions WHERE code = $1
	`, code), code)
}

// List returns all regions at one administrative level.
func (r *RegionRepo) List(ctx context.Context, level domain.RegionLevel) ([]domain.Region, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+regionColumns+` FROM regions WHERE level = $1 ORDER BY code
	`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var reg domain.Region
		if err := rows.Scan(&reg.ID, &reg.Code, &reg.NameKo, &reg.NameEn,
			&reg.Level, &reg.ParentID, &reg.CreatedAt); err != nil {
			return nil, err
		}
		regions = append(regions, reg)
	}
	return regions, rows.Err()
}

func (r *RegionRepo) scanOne(row pgx.Row, key string) (*domain.Region, error) {
	var reg domain.Region
	err := row.Scan(&reg.ID, &reg.Code, &reg.NameKo, &reg.NameEn,
		&reg.Level, &reg.ParentID, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: region %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}
