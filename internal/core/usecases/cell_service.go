package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/pkg/geoindex"
	"github.com/townin/geocore/internal/pkg/metrics"
)

// CellService owns the grid cell registry. The one-row-per-cell invariant is
// enforced in two layers: an optimistic read here, and the cell_id uniqueness
// constraint at the store as the pessimistic safety net.
type CellService struct {
	cells      ports.GridCellRepository
	cache      ports.CacheService
	resolution int
}

// NewCellService creates a new CellService. resolution <= 0 selects the
// default tier (~500 m cells).
func NewCellService(cells ports.GridCellRepository, cache ports.CacheService, resolution int) *CellService {
	if resolution <= 0 {
		resolution = geoindex.DefaultResolution
	}
	return &CellService{cells: cells, cache: cache, resolution: resolution}
}

// Resolution returns the configured resolution tier.
func (s *CellService) Resolution() int { return s.resolution }

// EnsureAt resolves a coordinate to its cell and guarantees the cell row
// exists. Propagates domain.ErrInvalidCoordinate from the indexer.
func (s *CellService) EnsureAt(ctx context.Context, coord domain.Coordinate) (*domain.GridCell, error) {
	indexed, err := geoindex.Index(coord, s.resolution)
	if err != nil {
		return nil, err
	}
	return s.EnsureCell(ctx, indexed)
}

// EnsureCell creates the cell if absent and returns the stored row.
// Idempotent: a concurrent insert of the same identifier is observed as
// "already exists", never as a duplicate row or an error. Administrative
// fields of an existing row are never mutated here.
func (s *CellService) EnsureCell(ctx context.Context, indexed geoindex.Cell) (*domain.GridCell, error) {
	// Optimistic layer: most calls hit an existing cell.
	if existing, err := s.getCached(ctx, indexed.ID); err == nil {
		metrics.CellsEnsured.WithLabelValues("existing").Inc()
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.MapDeadline(err)
	}

	cell := &domain.GridCell{
		CellID:     indexed.ID,
		Resolution: indexed.Resolution,
		Centroid:   indexed.Centroid,
		Boundary:   indexed.Boundary,
		Active:     true,
	}

	inserted, err := s.cells.Insert(ctx, cell)
	if err != nil {
		return nil, domain.MapDeadline(fmt.Errorf("insert cell %s: %w", indexed.ID, err))
	}
	if inserted {
		s.cacheSet(ctx, cell)
		metrics.CellsEnsured.WithLabelValues("created").Inc()
		return cell, nil
	}

	// Lost the insert race: first successful insert wins, we re-read the
	// winner's row. One internal retry before surfacing the conflict.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.cells.GetByID(ctx, indexed.ID)
		if err == nil {
			s.cacheSet(ctx, existing)
			metrics.CellsEnsured.WithLabelValues("existing").Inc()
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.MapDeadline(err)
		}
	}
	return nil, fmt.Errorf("%w: cell %s", domain.ErrConflictRetryable, indexed.ID)
}

// GetCell returns a cell by identifier, read-through cached.
func (s *CellService) GetCell(ctx context.Context, cellID string) (*domain.GridCell, error) {
	cell, err := s.getCached(ctx, cellID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return cell, nil
}

// Annotate applies administrative enrichment to a cell. Runs out-of-band
// from indexing; geometry and identity are immutable.
func (s *CellService) Annotate(ctx context.Context, cellID string, ann domain.CellAnnotation) error {
	if ann.PropertyValueTier < 0 || ann.PropertyValueTier > 5 {
		return fmt.Errorf("property value tier must be 1-5 (0 leaves it unset), got %d", ann.PropertyValueTier)
	}
	if err := s.cells.Annotate(ctx, cellID, ann); err != nil {
		return domain.MapDeadline(err)
	}
	s.cacheDelete(ctx, cellID)
	return nil
}

// Deactivate soft-retires a cell. Cells are never physically deleted.
func (s *CellService) Deactivate(ctx context.Context, cellID string) error {
	if err := s.cells.Deactivate(ctx, cellID); err != nil {
		return domain.MapDeadline(err)
	}
	s.cacheDelete(ctx, cellID)
	return nil
}

// CellsInBounds returns cells intersecting a bounding box, for map display.
func (s *CellService) CellsInBounds(ctx context.Context, b domain.Bounds, limit int) ([]domain.GridCell, error) {
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return nil, fmt.Errorf("%w: inverted bounds", domain.ErrInvalidCoordinate)
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	cells, err := s.cells.ListInBounds(ctx, b, limit)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}
	return cells, nil
}

func (s *CellService) getCached(ctx context.Context, cellID string) (*domain.GridCell, error) {
	cacheKey := "cells:id:" + cellID
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cell domain.GridCell
			if err := json.Unmarshal(data, &cell); err == nil {
				return &cell, nil
			}
		}
	}

	cell, err := s.cells.GetByID(ctx, cellID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cell)
	return cell, nil
}

// Cells are immutable apart from rare annotation passes; 10 min TTL.
func (s *CellService) cacheSet(ctx context.Context, cell *domain.GridCell) {
	if s.cache == nil {
		return
	}
	if data, err := json.Marshal(cell); err == nil {
		_ = s.cache.Set(ctx, "cells:id:"+cell.CellID, data, 600)
	}
}

func (s *CellService) cacheDelete(ctx context.Context, cellID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "cells:id:"+cellID)
	}
}
