package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/types"
)

// maxRetryAttempts bounds how often an unacknowledged event is re-published
// before it is declared exhausted.
const maxRetryAttempts = 5

type trackedEvent struct {
	Target      string
	EventType   types.InterAppEventType
	EntityID    string
	Data        any
	Broadcast   bool
	TenantID    string
	Attempts    int
	PublishedAt time.Time
}

// RetryScanner re-publishes events whose acknowledgment never arrived within
// the ack window. Callers register each confirmed publish; the consumer-side
// acknowledgment channel clears entries as acks flow back.
type RetryScanner struct {
	cfg       *config.Configuration
	logger    *logger.Logger
	publisher publisher.EventPublisher

	mu      sync.Mutex
	pending map[string]*trackedEvent
}

func NewRetryScanner(cfg *config.Configuration, logger *logger.Logger, pub publisher.EventPublisher) *RetryScanner {
	return &RetryScanner{
		cfg:       cfg,
		logger:    logger,
		publisher: pub,
		pending:   map[string]*trackedEvent{},
	}
}

// Track registers a confirmed publish that expects an acknowledgment.
func (s *RetryScanner) Track(ctx context.Context, receipt *events.PublishReceipt, target string, eventType types.InterAppEventType, entityID string, data any) {
	if receipt == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[receipt.EventID] = &trackedEvent{
		Target:      target,
		EventType:   eventType,
		EntityID:    entityID,
		Data:        data,
		Broadcast:   target == "",
		TenantID:    types.GetTenantID(ctx),
		PublishedAt: time.Now().UTC(),
	}
}

// HandleAck clears a tracked event when its acknowledgment arrives. Failed
// acks keep the entry so the scanner retries it.
func (s *RetryScanner) HandleAck(ack *events.AcknowledgmentEvent) {
	if ack == nil || ack.Status != types.AckStatusProcessed {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ack.OriginalEventID)
}

// PendingCount reports how many events still await an acknowledgment.
func (s *RetryScanner) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start runs the scan loop until the context is canceled.
func (s *RetryScanner) Start(ctx context.Context) {
	interval := s.cfg.Scheduler.RetryScanInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.logger.Infow("retry scanner started",
		"interval", interval,
		"ack_window", s.cfg.Scheduler.RetryAckWindow,
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("retry scanner stopped")
			return
		case <-ticker.C:
			s.Scan(ctx, time.Now().UTC())
		}
	}
}

// Scan re-publishes every tracked event older than the ack window.
func (s *RetryScanner) Scan(ctx context.Context, now time.Time) {
	window := s.cfg.Scheduler.RetryAckWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	s.mu.Lock()
	overdue := map[string]*trackedEvent{}
	for eventID, entry := range s.pending {
		if now.Sub(entry.PublishedAt) >= window {
			overdue[eventID] = entry
			delete(s.pending, eventID)
		}
	}
	s.mu.Unlock()

	for eventID, entry := range overdue {
		if entry.Attempts >= maxRetryAttempts {
			s.logger.Errorw("giving up on unacknowledged event",
				"event_id", eventID,
				"event_type", entry.EventType,
				"target", entry.Target,
				"attempts", entry.Attempts,
				"failure_class", types.FailureRetryExhausted,
			)
			continue
		}
		s.republish(ctx, eventID, entry)
	}
}

func (s *RetryScanner) republish(ctx context.Context, eventID string, entry *trackedEvent) {
	publishCtx := types.SetTenantID(ctx, entry.TenantID)
	publishCtx = types.SetUserID(publishCtx, types.SystemUserID)

	var (
		receipt *events.PublishReceipt
		err     error
	)
	if entry.Broadcast {
		receipt, err = s.publisher.PublishBroadcast(publishCtx, entry.EventType, entry.EntityID, entry.Data)
	} else {
		receipt, err = s.publisher.Publish(publishCtx, entry.Target, entry.EventType, entry.EntityID, entry.Data)
	}
	if err != nil {
		// Keep the entry under its old ID; the next scan tries again.
		s.logger.Errorw("retry publish failed",
			"event_id", eventID,
			"event_type", entry.EventType,
			"error", err,
		)
		entry.Attempts++
		entry.PublishedAt = time.Now().UTC()
		s.mu.Lock()
		s.pending[eventID] = entry
		s.mu.Unlock()
		return
	}

	s.logger.Warnw("re-published unacknowledged event",
		"original_event_id", eventID,
		"event_id", receipt.EventID,
		"event_type", entry.EventType,
		"attempt", entry.Attempts+1,
	)

	entry.Attempts++
	entry.PublishedAt = time.Now().UTC()
	s.mu.Lock()
	s.pending[receipt.EventID] = entry
	s.mu.Unlock()
}
