package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/townin/geocore/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber sharing a NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

func (s *Subscriber) SubscribeSyncCompleted(ctx context.Context, handler func(ctx context.Context, run *domain.SyncRun) error) error {
	sub, err := s.js.Subscribe("geo.sync.completed.>", func(msg *nats.Msg) {
		var run domain.SyncRun
		if err := json.Unmarshal(msg.Data, &run); err != nil {
			_ = msg.Nak()
			return
		}
		if err := handler(ctx, &run); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("sync-completed-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) SubscribeHubChanged(ctx context.Context, handler func(ctx context.Context, hub *domain.HubLocation) error) error {
	sub, err := s.js.Subscribe("geo.hub.changed.>", func(msg *nats.Msg) {
		var hub domain.HubLocation
		if err := json.Unmarshal(msg.Data, &hub); err != nil {
			_ = msg.Nak()
			return
		}
		if err := handler(ctx, &hub); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		// Ephemeral on purpose: every instance keeps its own cache and
		// must see every hub change, so no shared durable consumer here.
		nats.DeliverNew(),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
