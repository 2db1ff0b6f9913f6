package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/ports"
)

// HubService enforces the one-active-location-per-hub-category invariant.
// The optimistic layer is the single-statement upsert keyed by
// (user, category); the unique index on those columns is the safety net.
type HubService struct {
	hubs   ports.HubRepository
	users  ports.UserRepository
	cells  *CellService
	events ports.EventPublisher
	cache  ports.CacheService
}

// NewHubService creates a new HubService. events and cache may be nil.
func NewHubService(hubs ports.HubRepository, users ports.UserRepository, cells *CellService, events ports.EventPublisher, cache ports.CacheService) *HubService {
	return &HubService{hubs: hubs, users: users, cells: cells, events: events, cache: cache}
}

// SetHubInput carries the optional attributes of a hub assignment.
type SetHubInput struct {
	Label    string         `json:"label,omitempty"`
	RegionID *string        `json:"region_id,omitempty"`
	Primary  bool           `json:"primary"`
	Tags     map[string]any `json:"tags,omitempty"`
}

// SetHub assigns or replaces the user's hub for a category. The raw category
// may be a legacy alias; it is normalized before any I/O. The returned row
// carries the resolved cell metadata.
//
// A write for an existing (user, category) pair replaces the row in place.
// The hub linkage is written in one statement, so a failure after cell
// resolution leaves no partial hub state — the cell itself may outlive the
// failed call, which is harmless: cells are shared and lazily created.
func (s *HubService) SetHub(ctx context.Context, userID, rawCategory string, coord domain.Coordinate, in SetHubInput) (*domain.HubLocation, error) {
	category, err := domain.NormalizeHubCategory(rawCategory)
	if err != nil {
		return nil, err
	}

	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, domain.MapDeadline(fmt.Errorf("check user %s: %w", userID, err))
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}

	cell, err := s.cells.EnsureAt(ctx, coord)
	if err != nil {
		return nil, err
	}

	hub := &domain.HubLocation{
		UserID:   userID,
		Category: category,
		CellID:   cell.CellID,
		RegionID: in.RegionID,
		Centroid: &cell.Centroid,
		Label:    in.Label,
		Primary:  in.Primary,
		Tags:     in.Tags,
	}

	stored, err := s.hubs.Upsert(ctx, hub)
	if err != nil {
		return nil, domain.MapDeadline(fmt.Errorf("upsert hub (%s, %s): %w", userID, category, err))
	}
	stored.Cell = cell

	s.invalidate(ctx, userID)

	if s.events != nil {
		if err := s.events.PublishHubChanged(ctx, stored); err != nil {
			slog.Warn("hub change event publish failed", "user_id", userID, "category", category, "error", err)
		}
	}

	return stored, nil
}

// ListHubs returns the user's hubs, at most one per category.
func (s *HubService) ListHubs(ctx context.Context, userID string) ([]domain.HubLocation, error) {
	cacheKey := "hubs:user:" + userID
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var hubs []domain.HubLocation
			if err := json.Unmarshal(data, &hubs); err == nil {
				return hubs, nil
			}
		}
	}

	hubs, err := s.hubs.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.MapDeadline(err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(hubs); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 300)
		}
	}

	return hubs, nil
}

// RemoveHub deletes the user's hub for a category. Accepts legacy aliases.
func (s *HubService) RemoveHub(ctx context.Context, userID, rawCategory string) error {
	category, err := domain.NormalizeHubCategory(rawCategory)
	if err != nil {
		return err
	}
	if err := s.hubs.Delete(ctx, userID, category); err != nil {
		return domain.MapDeadline(err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *HubService) invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "hubs:user:"+userID)
	}
}
