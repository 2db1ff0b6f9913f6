package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/townin/geocore/internal/adapters/http"
	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/usecases"
)

// ---- Mock repositories ----

type mockCellRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.GridCell
}

func newMockCellRepo() *mockCellRepo {
	return &mockCellRepo{rows: make(map[string]*domain.GridCell)}
}

func (m *mockCellRepo) Insert(ctx context.Context, cell *domain.GridCell) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[cell.CellID]; ok {
		return false, nil
	}
	stored := *cell
	m.rows[cell.CellID] = &stored
	return true, nil
}

func (m *mockCellRepo) GetByID(ctx context.Context, cellID string) (*domain.GridCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.rows[cellID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *cell
	return &cp, nil
}

func (m *mockCellRepo) Annotate(ctx context.Context, cellID string, ann domain.CellAnnotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.rows[cellID]
	if !ok {
		return domain.ErrNotFound
	}
	cell.Province = ann.Province
	cell.City = ann.City
	cell.District = ann.District
	return nil
}

func (m *mockCellRepo) Deactivate(ctx context.Context, cellID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.rows[cellID]
	if !ok {
		return domain.ErrNotFound
	}
	cell.Active = false
	return nil
}

func (m *mockCellRepo) ListInBounds(ctx context.Context, b domain.Bounds, limit int) ([]domain.GridCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GridCell
	for _, cell := range m.rows {
		out = append(out, *cell)
	}
	return out, nil
}

type mockHubRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.HubLocation
	seq  int
}

func newMockHubRepo() *mockHubRepo {
	return &mockHubRepo{rows: make(map[string]*domain.HubLocation)}
}

func (m *mockHubRepo) key(userID string, category domain.HubCategory) string {
	return userID + "/" + string(category)
}

func (m *mockHubRepo) Upsert(ctx context.Context, hub *domain.HubLocation) (*domain.HubLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *hub
	if existing, ok := m.rows[m.key(hub.UserID, hub.Category)]; ok {
		stored.ID = existing.ID
	} else {
		m.seq++
		stored.ID = fmt.Sprintf("hub-%d", m.seq)
	}
	m.rows[m.key(hub.UserID, hub.Category)] = &stored
	cp := stored
	return &cp, nil
}

func (m *mockHubRepo) ListByUser(ctx context.Context, userID string) ([]domain.HubLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HubLocation
	for _, hub := range m.rows {
		if hub.UserID == userID {
			out = append(out, *hub)
		}
	}
	return out, nil
}

func (m *mockHubRepo) Delete(ctx context.Context, userID string, category domain.HubCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, category)
	if _, ok := m.rows[k]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

type mockUserRepo struct {
	existsFn func(ctx context.Context, userID string) (bool, error)
}

func (m *mockUserRepo) Exists(ctx context.Context, userID string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, userID)
	}
	return true, nil
}

type mockFamilyRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.FamilyMember
	seq  int
}

func newMockFamilyRepo() *mockFamilyRepo {
	return &mockFamilyRepo{rows: make(map[string]*domain.FamilyMember)}
}

func (m *mockFamilyRepo) Insert(ctx context.Context, member *domain.FamilyMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	member.ID = fmt.Sprintf("fm-%d", m.seq)
	stored := *member
	m.rows[member.ID] = &stored
	return nil
}

func (m *mockFamilyRepo) Update(ctx context.Context, member *domain.FamilyMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[member.ID]; !ok {
		return domain.ErrNotFound
	}
	stored := *member
	m.rows[member.ID] = &stored
	return nil
}

func (m *mockFamilyRepo) GetByID(ctx context.Context, id string) (*domain.FamilyMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *member
	return &cp, nil
}

func (m *mockFamilyRepo) ListByUser(ctx context.Context, userID string) ([]domain.FamilyMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FamilyMember
	for _, member := range m.rows {
		if member.UserID == userID && member.Active {
			out = append(out, *member)
		}
	}
	return out, nil
}

func (m *mockFamilyRepo) TokenExists(ctx context.Context, token string) (bool, error) {
	return false, nil
}

func (m *mockFamilyRepo) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	member.Active = false
	return nil
}

type mockEntityRepo struct {
	mu           sync.Mutex
	rows         map[string]*domain.GeoEntity
	findNearbyFn func(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radius float64, limit int) ([]domain.GeoEntity, error)
	listByCellFn func(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error)
}

func newMockEntityRepo() *mockEntityRepo {
	return &mockEntityRepo{rows: make(map[string]*domain.GeoEntity)}
}

func (m *mockEntityRepo) key(kind domain.DatasetKind, externalID string) string {
	return string(kind) + "/" + externalID
}

func (m *mockEntityRepo) GetByExternalID(ctx context.Context, kind domain.DatasetKind, externalID string) (*domain.GeoEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[m.key(kind, externalID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntityRepo) Insert(ctx context.Context, e *domain.GeoEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *e
	m.rows[m.key(e.Kind, e.ExternalID)] = &stored
	return nil
}

func (m *mockEntityRepo) Update(ctx context.Context, e *domain.GeoEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *e
	m.rows[m.key(e.Kind, e.ExternalID)] = &stored
	return nil
}

func (m *mockEntityRepo) FindNearby(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radius float64, limit int) ([]domain.GeoEntity, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, kind, center, radius, limit)
	}
	return nil, nil
}

func (m *mockEntityRepo) ListByCell(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error) {
	if m.listByCellFn != nil {
		return m.listByCellFn(ctx, kind, cellID)
	}
	return nil, nil
}

func (m *mockEntityRepo) CountByKind(ctx context.Context) (map[domain.DatasetKind]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.DatasetKind]int)
	for _, e := range m.rows {
		counts[e.Kind]++
	}
	return counts, nil
}

type mockRunRepo struct {
	mu        sync.Mutex
	recorded  []domain.SyncRun
	recordErr error
}

func (m *mockRunRepo) Record(ctx context.Context, run *domain.SyncRun) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(m.recorded)+1)
	m.recorded = append(m.recorded, *run)
	return nil
}

func (m *mockRunRepo) ListRecent(ctx context.Context, kind domain.DatasetKind, limit int) ([]domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncRun
	for i := len(m.recorded) - 1; i >= 0 && len(out) < limit; i-- {
		if kind != "" && m.recorded[i].Kind != kind {
			continue
		}
		out = append(out, m.recorded[i])
	}
	return out, nil
}

func (m *mockRunRepo) LastSuccessful(ctx context.Context, kind domain.DatasetKind) (*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.recorded) - 1; i >= 0; i-- {
		if m.recorded[i].Kind == kind && m.recorded[i].Status == domain.SyncSuccess {
			cp := m.recorded[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type mockRegionRepo struct {
	listFn      func(ctx context.Context, level domain.RegionLevel) ([]domain.Region, error)
	getByCodeFn func(ctx context.Context, code string) (*domain.Region, error)
}

func (m *mockRegionRepo) GetByID(ctx context.Context, id string) (*domain.Region, error) {
	return nil, domain.ErrNotFound
}

func (m *mockRegionRepo) GetByCode(ctx context.Context, code string) (*domain.Region, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, code)
	}
	return nil, domain.ErrNotFound
}

func (m *mockRegionRepo) List(ctx context.Context, level domain.RegionLevel) ([]domain.Region, error) {
	if m.listFn != nil {
		return m.listFn(ctx, level)
	}
	return nil, nil
}

// ---- Test helpers ----

type testFixtures struct {
	cells    *mockCellRepo
	hubs     *mockHubRepo
	users    *mockUserRepo
	family   *mockFamilyRepo
	entities *mockEntityRepo
	runs     *mockRunRepo
	regions  *mockRegionRepo
}

func makeDeps(opts ...func(*testFixtures)) *handler.Dependencies {
	f := &testFixtures{
		cells:    newMockCellRepo(),
		hubs:     newMockHubRepo(),
		users:    &mockUserRepo{},
		family:   newMockFamilyRepo(),
		entities: newMockEntityRepo(),
		runs:     &mockRunRepo{},
		regions:  &mockRegionRepo{},
	}
	for _, o := range opts {
		o(f)
	}

	cellSvc := usecases.NewCellService(f.cells, nil, 16)
	return &handler.Dependencies{
		Cells:   cellSvc,
		Hubs:    usecases.NewHubService(f.hubs, f.users, cellSvc, nil, nil),
		Sync:    usecases.NewSyncService(f.entities, cellSvc, f.runs, nil, nil, 4),
		Audit:   usecases.NewAuditService(f.runs),
		Family:  usecases.NewFamilyService(f.family, f.users),
		Regions: f.regions,
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

// ---- Hub handler tests ----

func TestSetHub_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":37.5665,"lon":126.9780,"label":"my place"}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/home", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hub domain.HubLocation
	if err := json.NewDecoder(resp.Body).Decode(&hub); err != nil {
		t.Fatal(err)
	}
	if hub.Category != domain.HubHome {
		t.Errorf("expected category home, got %s", hub.Category)
	}
	if hub.CellID == "" {
		t.Error("expected a resolved cell id")
	}
	if hub.Centroid == nil {
		t.Error("expected the cell centroid on the response")
	}
}

func TestSetHub_LegacyAliasNormalized(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":37.5665,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/residence", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hub domain.HubLocation
	json.NewDecoder(resp.Body).Decode(&hub)
	if hub.Category != domain.HubHome {
		t.Errorf("expected alias normalized to home, got %s", hub.Category)
	}
}

func TestSetHub_InvalidCoordinate(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":999,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/home", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestSetHub_UnknownCategory(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":37.5665,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/vacation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestSetHub_UserNotFound(t *testing.T) {
	deps := makeDeps(func(f *testFixtures) {
		f.users.existsFn = func(ctx context.Context, userID string) (bool, error) {
			return false, nil
		}
	})
	app := setupApp(deps)

	body := `{"lat":37.5665,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/ghost/hubs/home", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSetHub_ReplacesExisting(t *testing.T) {
	app := setupApp(makeDeps())

	for _, body := range []string{
		`{"lat":37.5665,"lon":126.9780}`,
		`{"lat":37.4979,"lon":127.0276}`,
	} {
		req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/work", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 200 {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}

	req := httptest.NewRequest("GET", "/v1/users/u1/hubs", nil)
	resp, _ := app.Test(req, -1)
	var result struct {
		Hubs  []domain.HubLocation `json:"hubs"`
		Count int                  `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 1 {
		t.Fatalf("expected exactly 1 hub after replacement, got %d", result.Count)
	}
}

func TestRemoveHub_AcceptsAlias(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":37.5665,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/hubs/work", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("DELETE", "/v1/users/u1/hubs/workplace", nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestLegacyLocations_DeprecationHeaders(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"type":"workplace","lat":37.5665,"lon":126.9780}`
	req := httptest.NewRequest("PUT", "/v1/users/u1/locations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Deprecation") == "" {
		t.Error("expected Deprecation header on legacy endpoint")
	}
	if resp.Header.Get("Sunset") == "" {
		t.Error("expected Sunset header on legacy endpoint")
	}

	var hub domain.HubLocation
	json.NewDecoder(resp.Body).Decode(&hub)
	if hub.Category != domain.HubWork {
		t.Errorf("expected workplace normalized to work, got %s", hub.Category)
	}
}

// ---- Cell handler tests ----

func TestResolveCell_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":43.2630,"lon":-2.9350}`
	req := httptest.NewRequest("POST", "/v1/cells/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var cell domain.GridCell
	json.NewDecoder(resp.Body).Decode(&cell)
	if cell.CellID == "" {
		t.Fatal("expected a cell id")
	}
	if cell.Resolution != 16 {
		t.Errorf("expected resolution 16, got %d", cell.Resolution)
	}
}

func TestResolveCell_Idempotent(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":43.2630,"lon":-2.9350}`
	var first, second domain.GridCell
	for i, dst := range []*domain.GridCell{&first, &second} {
		req := httptest.NewRequest("POST", "/v1/cells/resolve", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
		json.NewDecoder(resp.Body).Decode(dst)
	}
	if first.CellID != second.CellID {
		t.Errorf("expected identical cell ids, got %s and %s", first.CellID, second.CellID)
	}
}

func TestGetCell_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":43.2630,"lon":-2.9350}`
	req := httptest.NewRequest("POST", "/v1/cells/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	var cell domain.GridCell
	json.NewDecoder(resp.Body).Decode(&cell)

	req = httptest.NewRequest("GET", "/v1/cells/"+cell.CellID, nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cc := resp.Header.Get("Cache-Control")
	if cc != "public, max-age=600" {
		t.Errorf("expected Cache-Control for cells, got %q", cc)
	}
}

func TestGetCell_NotFound(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/cells/16/1/2", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListCells_MissingBounds(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/cells", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnnotateCell_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"lat":43.2630,"lon":-2.9350}`
	req := httptest.NewRequest("POST", "/v1/cells/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	var cell domain.GridCell
	json.NewDecoder(resp.Body).Decode(&cell)

	ann := `{"province":"Seoul","district":"Gangnam-gu","property_value_tier":3}`
	req = httptest.NewRequest("POST", "/v1/cells/"+cell.CellID+"/annotations", strings.NewReader(ann))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

// ---- Sync handler tests ----

func TestSyncDataset_FreshBatch(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"records":[
		{"external_id":"C1","name":"Cam 1","lat":37.5665,"lon":126.9780},
		{"external_id":"C2","name":"Cam 2","lat":37.5651,"lon":126.9895}
	]}`
	req := httptest.NewRequest("POST", "/v1/sync/camera", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var run domain.SyncRun
	json.NewDecoder(resp.Body).Decode(&run)
	if run.Status != domain.SyncSuccess {
		t.Errorf("expected success, got %s", run.Status)
	}
	if run.Inserted != 2 || run.Total != 2 {
		t.Errorf("expected inserted=2 total=2, got inserted=%d total=%d", run.Inserted, run.Total)
	}
}

func TestSyncDataset_UnknownKind(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("POST", "/v1/sync/traffic", strings.NewReader(`{"records":[]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSyncDataset_RerunIsNoOp(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"records":[{"external_id":"P1","name":"Lot 1","lat":37.5665,"lon":126.9780}]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/sync/parking", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 200 {
			t.Fatalf("run %d: expected 200, got %d", i, resp.StatusCode)
		}
		var run domain.SyncRun
		json.NewDecoder(resp.Body).Decode(&run)
		if i == 1 && (run.Inserted != 0 || run.Updated != 0 || run.Errored != 0) {
			t.Errorf("rerun should be a no-op, got inserted=%d updated=%d errored=%d",
				run.Inserted, run.Updated, run.Errored)
		}
	}
}

func TestSyncDataset_StructuralFailureStillReturnsRun(t *testing.T) {
	deps := makeDeps(func(f *testFixtures) {
		f.runs = &mockRunRepo{recordErr: errors.New("sync_runs table unavailable")}
	})
	app := setupApp(deps)

	body := `{"records":[{"external_id":"C1","name":"Cam 1","lat":37.5665,"lon":126.9780}]}`
	req := httptest.NewRequest("POST", "/v1/sync/camera", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	var result struct {
		Run   *domain.SyncRun  `json:"run"`
		Error handler.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Run == nil {
		t.Fatal("expected the closed run alongside the error")
	}
	if result.Run.Inserted != 1 || result.Run.Total != 1 {
		t.Errorf("expected inserted=1 total=1, got inserted=%d total=%d",
			result.Run.Inserted, result.Run.Total)
	}
	if result.Error.Code != "internal_error" {
		t.Errorf("expected internal_error code, got %s", result.Error.Code)
	}
}

func TestListSyncRuns_Success(t *testing.T) {
	runs := &mockRunRepo{}
	now := time.Now()
	runs.recorded = []domain.SyncRun{
		{ID: "run-1", Kind: domain.KindCamera, Status: domain.SyncSuccess, StartedAt: now},
		{ID: "run-2", Kind: domain.KindParking, Status: domain.SyncFailed, StartedAt: now},
	}
	deps := makeDeps(func(f *testFixtures) { f.runs = runs })
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/sync/runs?kind=camera", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Runs  []domain.SyncRun `json:"runs"`
		Count int              `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 1 {
		t.Errorf("expected 1 camera run, got %d", result.Count)
	}
}

func TestListSyncRuns_UnknownKind(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/sync/runs?kind=traffic", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSyncStatus_Success(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/sync/status", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Datasets map[string]map[string]interface{} `json:"datasets"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	for _, kind := range []string{"camera", "parking", "shelter"} {
		if _, ok := result.Datasets[kind]; !ok {
			t.Errorf("expected %s in status report", kind)
		}
	}
}

// ---- Entity handler tests ----

func TestNearbyEntities_Success(t *testing.T) {
	deps := makeDeps(func(f *testFixtures) {
		f.entities.findNearbyFn = func(ctx context.Context, kind domain.DatasetKind, center domain.Coordinate, radius float64, limit int) ([]domain.GeoEntity, error) {
			d := 42.5
			return []domain.GeoEntity{
				{ID: "e1", Kind: kind, ExternalID: "C1", Name: "Cam 1", Distance: &d},
			}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/entities/camera/nearby?lat=37.5665&lon=126.9780&radius=500", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNearbyEntities_MissingParams(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/entities/camera/nearby", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListEntities_Pagination(t *testing.T) {
	deps := makeDeps(func(f *testFixtures) {
		f.entities.listByCellFn = func(ctx context.Context, kind domain.DatasetKind, cellID string) ([]domain.GeoEntity, error) {
			out := make([]domain.GeoEntity, 5)
			for i := range out {
				out[i] = domain.GeoEntity{ID: fmt.Sprintf("e%d", i), Kind: kind, CellID: cellID}
			}
			return out, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/entities/camera?cell_id=16/55938/25417&offset=2&limit=2", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.GeoEntity `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 2 {
		t.Errorf("expected page of 2, got %d", len(result.Data))
	}
	if link := resp.Header.Get("Link"); !strings.Contains(link, `rel="next"`) {
		t.Errorf("expected next link, got %q", link)
	}
}

func TestListEntities_MissingCellID(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/entities/camera", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- Family handler tests ----

func TestAddFamilyMember_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"relationship":"child","birth_year":2015,"nickname":"kiddo","sensor_enabled":true}`
	req := httptest.NewRequest("POST", "/v1/users/u1/family", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var member domain.FamilyMember
	json.NewDecoder(resp.Body).Decode(&member)
	if !strings.HasPrefix(member.MemberToken, "fm_") {
		t.Errorf("expected minted member token, got %q", member.MemberToken)
	}
	if !member.Active {
		t.Error("expected new member active")
	}
}

func TestAddFamilyMember_BadRelationship(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"relationship":"roommate"}`
	req := httptest.NewRequest("POST", "/v1/users/u1/family", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpdateFamilyMember_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"relationship":"parent","nickname":"mom"}`
	req := httptest.NewRequest("POST", "/v1/users/u1/family", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	var member domain.FamilyMember
	json.NewDecoder(resp.Body).Decode(&member)

	patch := `{"nickname":"mother","notify_enabled":true}`
	req = httptest.NewRequest("PATCH", "/v1/users/u1/family/"+member.ID, strings.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var updated domain.FamilyMember
	json.NewDecoder(resp.Body).Decode(&updated)
	if updated.Nickname != "mother" {
		t.Errorf("expected nickname updated, got %q", updated.Nickname)
	}
	if !updated.NotifyEnabled {
		t.Error("expected notify enabled")
	}
}

func TestUpdateFamilyMember_WrongOwner(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"relationship":"parent"}`
	req := httptest.NewRequest("POST", "/v1/users/u1/family", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	var member domain.FamilyMember
	json.NewDecoder(resp.Body).Decode(&member)

	patch := `{"nickname":"hijacked"}`
	req = httptest.NewRequest("PATCH", "/v1/users/u2/family/"+member.ID, strings.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for foreign member, got %d", resp.StatusCode)
	}
}

func TestRemoveFamilyMember_Success(t *testing.T) {
	app := setupApp(makeDeps())

	body := `{"relationship":"sibling"}`
	req := httptest.NewRequest("POST", "/v1/users/u1/family", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	var member domain.FamilyMember
	json.NewDecoder(resp.Body).Decode(&member)

	req = httptest.NewRequest("DELETE", "/v1/users/u1/family/"+member.ID, nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/v1/users/u1/family", nil)
	resp, _ = app.Test(req, -1)
	var result struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Count != 0 {
		t.Errorf("expected no active members, got %d", result.Count)
	}
}

// ---- Region handler tests ----

func TestListRegions_Success(t *testing.T) {
	deps := makeDeps(func(f *testFixtures) {
		f.regions.listFn = func(ctx context.Context, level domain.RegionLevel) ([]domain.Region, error) {
			return []domain.Region{
				{ID: "r1", Code: "11680", NameKo: "강남구", NameEn: "Gangnam-gu", Level: level},
			}, nil
		}
	})
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/regions?level=district", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetRegion_NotFound(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/regions/00000", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// ---- Health handler tests ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
}

func TestReady_NoDB(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// ---- Middleware ----

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps())

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

// TestAccessLogMiddleware verifies structured access logging does not break
// the response path.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", string(body))
	}
}
