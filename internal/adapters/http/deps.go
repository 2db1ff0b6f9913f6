package http

import (
	"github.com/nats-io/nats.go"

	"github.com/townin/geocore/internal/adapters/postgres"
	"github.com/townin/geocore/internal/adapters/valkey"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Cells   *usecases.CellService
	Hubs    *usecases.HubService
	Sync    *usecases.SyncService
	Audit   *usecases.AuditService
	Family  *usecases.FamilyService
	Regions ports.RegionRepository
	NATS    *nats.Conn
	DB      *postgres.DB
	Cache   *valkey.Cache
}
