package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creditrail/creditrail/internal/consumer"
)

type streamEntry struct {
	id        string
	payload   []byte
	delivered bool
	acked     bool
}

// InMemoryStream is an in-memory implementation of the consumer stream used
// by runtime tests. Delivery semantics mirror a consumer group: entries are
// handed out once as new, stay pending until acknowledged, and pending
// entries are re-delivered through ReadPending.
type InMemoryStream struct {
	mu      sync.Mutex
	streams map[string][]*streamEntry
	seq     int
}

var _ consumer.Stream = (*InMemoryStream)(nil)

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{
		streams: map[string][]*streamEntry{},
	}
}

func (s *InMemoryStream) EnsureGroup(ctx context.Context, streamKey, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[streamKey]; !ok {
		s.streams[streamKey] = []*streamEntry{}
	}
	return nil
}

func (s *InMemoryStream) ReadPending(ctx context.Context, streamKey, group, consumerName string, count int64, block time.Duration) ([]consumer.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := []consumer.StreamMessage{}
	for _, entry := range s.streams[streamKey] {
		if entry.delivered && !entry.acked {
			messages = append(messages, consumer.StreamMessage{ID: entry.id, Payload: entry.payload})
			if int64(len(messages)) >= count {
				break
			}
		}
	}
	return messages, nil
}

func (s *InMemoryStream) ReadNew(ctx context.Context, streamKey, group, consumerName string, count int64, block time.Duration) ([]consumer.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := []consumer.StreamMessage{}
	for _, entry := range s.streams[streamKey] {
		if !entry.delivered {
			entry.delivered = true
			messages = append(messages, consumer.StreamMessage{ID: entry.id, Payload: entry.payload})
			if int64(len(messages)) >= count {
				break
			}
		}
	}
	return messages, nil
}

func (s *InMemoryStream) Ack(ctx context.Context, streamKey, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.streams[streamKey] {
		for _, id := range ids {
			if entry.id == id {
				entry.acked = true
			}
		}
	}
	return nil
}

func (s *InMemoryStream) Append(ctx context.Context, streamKey string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.streams[streamKey] = append(s.streams[streamKey], &streamEntry{id: id, payload: payload})
	return id, nil
}

// Redeliver marks a delivered, unacknowledged entry as undelivered so the
// next ReadNew hands it out again. Simulates a broker redelivery.
func (s *InMemoryStream) Redeliver(streamKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.streams[streamKey] {
		if entry.id == id && !entry.acked {
			entry.delivered = false
		}
	}
}

// UnackedCount reports how many entries have not been acknowledged.
func (s *InMemoryStream) UnackedCount(streamKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.streams[streamKey] {
		if !entry.acked {
			count++
		}
	}
	return count
}
