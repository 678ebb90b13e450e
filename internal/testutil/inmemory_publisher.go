package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/types"
)

// PublishedEvent records one publish seen by the in-memory publisher.
type PublishedEvent struct {
	EventID    string
	Target     string
	EventType  types.InterAppEventType
	EntityID   string
	RoutingKey string
	Data       any
	Broadcast  bool
}

// PublishedAck records one acknowledgment mirrored through the publisher.
type PublishedAck struct {
	SourceApplication string
	RoutingKey        string
	Ack               *events.AcknowledgmentEvent
}

// InMemoryPublisher is an in-memory implementation of the event publisher
// used by service and scheduler tests.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	acks   []PublishedAck

	// FailNext makes the next publish fail, simulating broker loss.
	FailNext error
}

var _ publisher.EventPublisher = (*InMemoryPublisher)(nil)

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(ctx context.Context, targetApplication string, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	return p.record(targetApplication, eventType, entityID, data, false)
}

func (p *InMemoryPublisher) PublishBroadcast(ctx context.Context, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	return p.record("", eventType, entityID, data, true)
}

func (p *InMemoryPublisher) record(target string, eventType types.InterAppEventType, entityID string, data any, broadcast bool) (*events.PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return nil, err
	}

	routingKey := ""
	if !broadcast {
		routingKey = types.DeriveRoutingKey(target, eventType)
	}
	eventID := events.NewEventID(time.Now().UTC())
	p.events = append(p.events, PublishedEvent{
		EventID:    eventID,
		Target:     target,
		EventType:  eventType,
		EntityID:   entityID,
		RoutingKey: routingKey,
		Data:       data,
		Broadcast:  broadcast,
	})
	return &events.PublishReceipt{EventID: eventID, RoutingKey: routingKey}, nil
}

func (p *InMemoryPublisher) PublishAcknowledgment(ctx context.Context, sourceApplication string, ack *events.AcknowledgmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return err
	}
	p.acks = append(p.acks, PublishedAck{
		SourceApplication: sourceApplication,
		RoutingKey:        types.AckRoutingKey(sourceApplication),
		Ack:               ack,
	})
	return nil
}

func (p *InMemoryPublisher) UnroutableCount() int64 {
	return 0
}

func (p *InMemoryPublisher) Close() error {
	return nil
}

// Events returns a snapshot of all recorded publishes.
func (p *InMemoryPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Acks returns a snapshot of all recorded acknowledgments.
func (p *InMemoryPublisher) Acks() []PublishedAck {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedAck, len(p.acks))
	copy(out, p.acks)
	return out
}

// EventsOfType filters recorded publishes by event type.
func (p *InMemoryPublisher) EventsOfType(eventType types.InterAppEventType) []PublishedEvent {
	out := []PublishedEvent{}
	for _, e := range p.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
