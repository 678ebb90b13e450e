package publisher

import (
	"context"

	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/types"
)

// EventPublisher distributes balance-changing facts to downstream
// applications. Publishing happens outside storage units; delivery is
// at-least-once with consumer-side idempotency as the defense.
type EventPublisher interface {
	// Publish sends an event to the target application on the topic
	// exchange and waits for broker confirmation.
	Publish(ctx context.Context, targetApplication string, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error)

	// PublishBroadcast posts to the fanout exchange; every bound queue
	// receives a copy regardless of routing key.
	PublishBroadcast(ctx context.Context, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error)

	// PublishAcknowledgment mirrors a processing outcome back to the
	// source application's acknowledgment channel.
	PublishAcknowledgment(ctx context.Context, sourceApplication string, ack *events.AcknowledgmentEvent) error

	// UnroutableCount reports how many published messages the broker
	// returned as unroutable since startup.
	UnroutableCount() int64

	Close() error
}
