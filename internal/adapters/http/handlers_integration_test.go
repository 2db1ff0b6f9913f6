//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	handler "github.com/townin/geocore/internal/adapters/http"
	"github.com/townin/geocore/internal/adapters/postgres"
	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
	"github.com/townin/geocore/internal/core/usecases"
	"github.com/townin/geocore/internal/pkg/config"
)

// setupTestDB connects to the test database.
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("geocore-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}

	db := &postgres.DB{Pool: pool}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	return db
}

// setupTestDeps creates dependencies with real DB and repos, no cache, no broker.
func setupTestDeps(t *testing.T, db *postgres.DB) *handler.Dependencies {
	cellSvc := usecases.NewCellService(postgres.NewCellRepo(db), nil, 16)
	userRepo := postgres.NewUserRepo(db)
	runRepo := postgres.NewSyncRunRepo(db)

	return &handler.Dependencies{
		Cells:   cellSvc,
		Hubs:    usecases.NewHubService(postgres.NewHubRepo(db), userRepo, cellSvc, nil, nil),
		Sync:    usecases.NewSyncService(postgres.NewEntityRepo(db), cellSvc, runRepo, nil, ports.RealClock{}, 4),
		Audit:   usecases.NewAuditService(runRepo),
		Family:  usecases.NewFamilyService(postgres.NewFamilyRepo(db), userRepo),
		Regions: postgres.NewRegionRepo(db),
		DB:      db,
	}
}

// seedTestUser inserts a user row and returns its id.
func seedTestUser(t *testing.T, db *postgres.DB) string {
	var id string
	if err := db.Pool.QueryRow(context.Background(), `
		INSERT INTO users (nickname, is_active)
		VALUES ('integration-test', true)
		RETURNING id
	`).Scan(&id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

func setupIntegrationApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func TestIntegration_HubRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Pool.Close()
	deps := setupTestDeps(t, db)
	app := setupIntegrationApp(deps)

	userID := seedTestUser(t, db)

	body := `{"lat":37.5665,"lon":126.9780,"label":"seoul city hall"}`
	req := httptest.NewRequest("PUT", "/v1/users/"+userID+"/hubs/home", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("set hub: expected 200, got %d", resp.StatusCode)
	}

	var hub domain.HubLocation
	json.NewDecoder(resp.Body).Decode(&hub)
	if hub.CellID == "" {
		t.Fatal("expected a resolved cell id")
	}

	// The cell the hub resolved to must exist as a row.
	req = httptest.NewRequest("GET", "/v1/cells/"+hub.CellID, nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("get cell: expected 200, got %d", resp.StatusCode)
	}

	// Replacing via a legacy alias keeps a single row.
	body = `{"lat":37.4979,"lon":127.0276}`
	req = httptest.NewRequest("PUT", "/v1/users/"+userID+"/hubs/residence", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("replace hub: expected 200, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/v1/users/"+userID+"/hubs", nil)
	resp, _ = app.Test(req, -1)
	var result struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 1 {
		t.Fatalf("expected 1 hub after alias replacement, got %d", result.Count)
	}
}

func TestIntegration_SyncRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Pool.Close()
	deps := setupTestDeps(t, db)
	app := setupIntegrationApp(deps)

	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(),
			`DELETE FROM geo_entities WHERE external_id LIKE 'it-%'`)
	})

	body := `{"records":[
		{"external_id":"it-C1","name":"Integration Cam 1","lat":37.5665,"lon":126.9780},
		{"external_id":"it-C2","name":"Integration Cam 2","lat":37.5651,"lon":126.9895}
	]}`
	req := httptest.NewRequest("POST", "/v1/sync/camera", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("sync: expected 200, got %d", resp.StatusCode)
	}

	var run domain.SyncRun
	json.NewDecoder(resp.Body).Decode(&run)
	if run.Status != domain.SyncSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.ErrorMessage)
	}
	if run.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", run.Inserted)
	}

	// Rerun with the same batch is a no-op.
	req = httptest.NewRequest("POST", "/v1/sync/camera", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	json.NewDecoder(resp.Body).Decode(&run)
	if run.Inserted != 0 || run.Updated != 0 || run.Errored != 0 {
		t.Fatalf("rerun should be a no-op, got inserted=%d updated=%d errored=%d",
			run.Inserted, run.Updated, run.Errored)
	}

	// Both runs are in the audit log.
	req = httptest.NewRequest("GET", "/v1/sync/runs?kind=camera&limit=2", nil)
	resp, _ = app.Test(req, -1)
	var runs struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&runs)
	if runs.Count != 2 {
		t.Fatalf("expected 2 audit runs, got %d", runs.Count)
	}
}
