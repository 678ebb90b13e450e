package scheduler

import (
	"context"

	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/types"
)

// TrackedPublisher decorates an event publisher so every confirmed publish is
// registered with the retry scanner until its acknowledgment arrives. The
// scanner re-publishes through the inner publisher and re-keys entries
// itself, so retries are never tracked twice.
type TrackedPublisher struct {
	inner   publisher.EventPublisher
	scanner *RetryScanner
}

var _ publisher.EventPublisher = (*TrackedPublisher)(nil)

func NewTrackedPublisher(inner publisher.EventPublisher, scanner *RetryScanner) *TrackedPublisher {
	return &TrackedPublisher{inner: inner, scanner: scanner}
}

func (p *TrackedPublisher) Publish(ctx context.Context, targetApplication string, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	receipt, err := p.inner.Publish(ctx, targetApplication, eventType, entityID, data)
	if err != nil {
		return nil, err
	}
	p.scanner.Track(ctx, receipt, targetApplication, eventType, entityID, data)
	return receipt, nil
}

func (p *TrackedPublisher) PublishBroadcast(ctx context.Context, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	receipt, err := p.inner.PublishBroadcast(ctx, eventType, entityID, data)
	if err != nil {
		return nil, err
	}
	p.scanner.Track(ctx, receipt, "", eventType, entityID, data)
	return receipt, nil
}

// Acknowledgments are terminal and expect no acknowledgment of their own, so
// they pass through untracked.
func (p *TrackedPublisher) PublishAcknowledgment(ctx context.Context, sourceApplication string, ack *events.AcknowledgmentEvent) error {
	return p.inner.PublishAcknowledgment(ctx, sourceApplication, ack)
}

func (p *TrackedPublisher) UnroutableCount() int64 {
	return p.inner.UnroutableCount()
}

func (p *TrackedPublisher) Close() error {
	return p.inner.Close()
}
