package ports

import (
	"context"
	"time"

	"github.com/townin/geocore/internal/core/domain"
)

// GridCellRepository persists grid cells. Insert enforces the cell_id
// uniqueness constraint at the storage layer; a conflicting insert reports
// AlreadyExists=false on the returned flag rather than an error.
type GridCellRepository interface {
	// Insert creates the cell. Returns inserted=false when a concurrent
	// writer already created the row (store-level ON CONFLICT DO NOTHING).
	Insert(ctx context.Context, cell *domain.GridCell) (inserted bool, err error)
	GetByID(ctx context.Context, cellID string) (*domain.GridCell, error)
	// Annotate updates administrative fields only; geometry and identity
	// are immutable once the row exists.
	Annotate(ctx context.Context, cellID string, ann domain.CellAnnotation) error
	Deactivate(ctx context.Context, cellID string) error
	ListInBounds(ctx context.Context, b domain.Bounds, limit int) ([]domain.GridCell, error)
}

// HubRepository persists hub locations. Upsert replaces the existing
// (user, category) row atomically in a single statement.
type HubRepository interface {
	Upsert(ctx context.Context, hub *domain.HubLocation) (*domain.HubLocation, error)
	ListByUser(ctx context.Context, userID string) ([]domain.HubLocation, error)
	Delete(ctx context.Context, userID string, category domain.HubCategory) error
}

// UserRepository reads the minimal owner records.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// FamilyMemberRepository persists family members. Insert enforces the global
// member-token uniqueness constraint.
type FamilyMemberRepository interface {
	Insert(ctx context.Context, m *domain.FamilyMember) error
	Update(ctx context.Context, m *domain.FamilyMember) error
	GetByID(ctx context.Context, id string) (*domain.FamilyMember, error)
	ListByUser(ctx context.Context, userID string) ([]domain.FamilyMember, error)
	TokenExists(ctx context.Context, token string) (bool, error)
	Deactivate(ctx context.Context, id string) error
}

// GeoEntityRepository persists externally-sourced entities keyed by
// (kind, external_id).
type GeoEntityRepository interface {
	GetByExternalID(ctx context.Context, kind domain.DatasetKind, externalID string) (*domain.GeoEntity, error)
	Insert(ctx context.Context, e *domain.GeoEntity) error
	Update(ctx context.Context, e *domain.GeoEntity) error
	FindNearby(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radiusMeters float64, limit int) ([]domain.GeoEntity, error)
	ListByCell(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error)
	CountByKind(ctx context.Context) (map[domain.DatasetKind]int, error)
}

// SyncRunRepository is the append-only audit store. There are deliberately
// no update or delete operations on closed runs.
type SyncRunRepository interface {
	Record(ctx context.Context, run *domain.SyncRun) error
	ListRecent(ctx context.Context, kind domain.DatasetKind, limit int) ([]domain.SyncRun, error)
	LastSuccessful(ctx context.Context, kind domain.DatasetKind) (*domain.SyncRun, error)
}

// RegionRepository reads administrative regions.
type RegionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Region, error)
	GetByCode(ctx context.Context, code string) (*domain.Region, error)
	List(ctx context.Context, level domain.RegionLevel) ([]domain.Region, error)
}

// Clock is the source of current time for run bookkeeping. Production code
// uses RealClock; tests substitute a fixed sequence.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }
