package ports

import (
	"context"

	"github.com/townin/geocore/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, run *domain.SyncRun) error
	PublishHubChanged(ctx context.Context, hub *domain.HubLocation) error
	PublishBroadcast(ctx context.Context, data []byte) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeSyncCompleted(ctx context.Context, handler func(ctx context.Context, run *domain.SyncRun) error) error
	SubscribeHubChanged(ctx context.Context, handler func(ctx context.Context, hub *domain.HubLocation) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// BatchSource yields already-decoded batches of external records. Fetching
// and decoding the upstream wire format is the collaborator's concern.
type BatchSource interface {
	Fetch(ctx context.Context, kind domain.DatasetKind) ([]domain.RawExternalRecord, error)
}
