package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/usecases"
)

// --- Mock HubRepository ---

type mockHubRepo struct {
	// rows keyed by (userID, category)
	rows map[string]*domain.HubLocation
}

func newMockHubRepo() *mockHubRepo {
	return &mockHubRepo{rows: map[string]*domain.HubLocation{}}
}

func hubKey(userID string, category domain.HubCategory) string {
	return userID + "/" + string(category)
}

func (m *mockHubRepo) Upsert(ctx context.Context, hub *domain.HubLocation) (*domain.HubLocation, error) {
	cp := *hub
	cp.ID = hubKey(hub.UserID, hub.Category)
	m.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockHubRepo) ListByUser(ctx context.Context, userID string) ([]domain.HubLocation, error) {
	var hubs []domain.HubLocation
	for _, hub := range m.rows {
		if hub.UserID == userID {
			hubs = append(hubs, *hub)
		}
	}
	return hubs, nil
}

func (m *mockHubRepo) Delete(ctx context.Context, userID string, category domain.HubCategory) error {
	key := hubKey(userID, category)
	if _, ok := m.rows[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

// --- Mock UserRepository ---

type mockUserRepo struct {
	existsFn func(ctx context.Context, userID string) (bool, error)
}

func (m *mockUserRepo) Exists(ctx context.Context, userID string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, userID)
	}
	return true, nil
}

func newHubService(hubs *mockHubRepo, users *mockUserRepo) *usecases.HubService {
	cells := usecases.NewCellService(newMockCellRepo(), nil, 0)
	return usecases.NewHubService(hubs, users, cells, nil, nil)
}

// --- Tests ---

func TestHubService_SetHub_CreatesAssignment(t *testing.T) {
	hubs := newMockHubRepo()
	svc := newHubService(hubs, &mockUserRepo{})

	hub, err := svc.SetHub(context.Background(), "u1", "home",
		domain.Coordinate{Lat: 37.5665, Lon: 126.9780}, usecases.SetHubInput{Label: "Apartment"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hub.Category != domain.HubHome {
		t.Errorf("expected category home, got %s", hub.Category)
	}
	if hub.CellID == "" {
		t.Error("expected resolved cell id")
	}
	if hub.Cell == nil {
		t.Error("expected attached cell metadata")
	}
	if hub.Centroid == nil {
		t.Error("expected cell centroid, not raw coordinate")
	}
}

func TestHubService_SetHub_SecondWriteReplaces(t *testing.T) {
	hubs := newMockHubRepo()
	svc := newHubService(hubs, &mockUserRepo{})
	ctx := context.Background()

	first, err := svc.SetHub(ctx, "u1", "home", domain.Coordinate{Lat: 37.5665, Lon: 126.9780}, usecases.SetHubInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.SetHub(ctx, "u1", "home", domain.Coordinate{Lat: 37.4979, Lon: 127.0276}, usecases.SetHubInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.CellID == second.CellID {
		t.Fatal("test setup error: both coordinates resolved to the same cell")
	}

	stored, err := svc.ListHubs(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected exactly 1 hub after replacement, got %d", len(stored))
	}
	if stored[0].CellID != second.CellID {
		t.Errorf("expected latest cell %s, got %s", second.CellID, stored[0].CellID)
	}
}

func TestHubService_SetHub_LegacyAliasIsSameSlot(t *testing.T) {
	hubs := newMockHubRepo()
	svc := newHubService(hubs, &mockUserRepo{})
	ctx := context.Background()

	if _, err := svc.SetHub(ctx, "u1", "residence", domain.Coordinate{Lat: 37.5665, Lon: 126.9780}, usecases.SetHubInput{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.SetHub(ctx, "u1", "home", domain.Coordinate{Lat: 37.4979, Lon: 127.0276}, usecases.SetHubInput{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := svc.ListHubs(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected alias and canonical writes to share one slot, got %d hubs", len(stored))
	}
	if stored[0].Category != domain.HubHome {
		t.Errorf("expected canonical category home, got %s", stored[0].Category)
	}
}

func TestHubService_SetHub_UnknownCategory(t *testing.T) {
	svc := newHubService(newMockHubRepo(), &mockUserRepo{})

	_, err := svc.SetHub(context.Background(), "u1", "vacation",
		domain.Coordinate{Lat: 37.5, Lon: 127.0}, usecases.SetHubInput{})
	if !errors.Is(err, domain.ErrUnknownHubCategory) {
		t.Fatalf("expected ErrUnknownHubCategory, got %v", err)
	}
}

func TestHubService_SetHub_UserNotFound(t *testing.T) {
	users := &mockUserRepo{existsFn: func(ctx context.Context, userID string) (bool, error) {
		return false, nil
	}}
	svc := newHubService(newMockHubRepo(), users)

	_, err := svc.SetHub(context.Background(), "ghost", "work",
		domain.Coordinate{Lat: 37.5, Lon: 127.0}, usecases.SetHubInput{})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHubService_SetHub_InvalidCoordinate(t *testing.T) {
	svc := newHubService(newMockHubRepo(), &mockUserRepo{})

	_, err := svc.SetHub(context.Background(), "u1", "home",
		domain.Coordinate{Lat: 37.5, Lon: 512.0}, usecases.SetHubInput{})
	if !errors.Is(err, domain.ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
}

func TestHubService_RemoveHub_AcceptsAlias(t *testing.T) {
	hubs := newMockHubRepo()
	svc := newHubService(hubs, &mockUserRepo{})
	ctx := context.Background()

	if _, err := svc.SetHub(ctx, "u1", "work", domain.Coordinate{Lat: 37.5665, Lon: 126.9780}, usecases.SetHubInput{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.RemoveHub(ctx, "u1", "workplace"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := svc.ListHubs(ctx, "u1")
	if len(stored) != 0 {
		t.Errorf("expected no hubs after removal, got %d", len(stored))
	}
}
