package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/types"
	gocache "github.com/patrickmn/go-cache"
)

// Handler processes one delivered event. Returning an error reports the
// consumption as failed; the runtime still acknowledges to the broker after
// the in-process retries to keep poison messages from looping.
type Handler func(ctx context.Context, event *events.InterAppEvent) error

const (
	pendingBatch = int64(16)
	newBatch     = int64(32)
	pendingBlock = 100 * time.Millisecond
	newBlock     = 2 * time.Second

	// idempotencyTTL is the sliding retention of recently processed event
	// IDs used to short-circuit broker redeliveries.
	idempotencyTTL = 30 * time.Minute
)

// Runtime is the durable consumer-group loop run by downstream applications.
// Delivery is at-least-once; the idempotency window makes the handler effects
// at-most-once within the retention bound.
type Runtime struct {
	stream    Stream
	publisher publisher.EventPublisher
	cfg       *config.Configuration
	logger    *logger.Logger

	window     *gocache.Cache
	windowSize int
	retries    int
}

func NewRuntime(stream Stream, pub publisher.EventPublisher, cfg *config.Configuration, logger *logger.Logger) *Runtime {
	retries := cfg.Event.HandlerRetries
	if retries < 0 {
		retries = 0
	}
	return &Runtime{
		stream:     stream,
		publisher:  pub,
		cfg:        cfg,
		logger:     logger,
		window:     gocache.New(idempotencyTTL, 5*time.Minute),
		windowSize: cfg.Event.IdempotencyWindowSize,
		retries:    retries,
	}
}

// Run consumes the stream until the context is canceled. Shutdown happens
// between ticks, never mid-handler.
func (r *Runtime) Run(ctx context.Context, streamKey, group, consumerName string, handler Handler) error {
	if err := r.stream.EnsureGroup(ctx, streamKey, group); err != nil {
		return err
	}

	r.logger.Infow("consumer runtime started",
		"stream", streamKey,
		"group", group,
		"consumer", consumerName,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("consumer runtime stopped", "stream", streamKey, "consumer", consumerName)
			return nil
		default:
		}

		if err := r.Tick(ctx, streamKey, group, consumerName, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Errorw("consumer tick failed",
				"stream", streamKey,
				"error", err,
			)
			// Transient stream errors degrade to a paced retry.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Tick drains pending deliveries left from a previous session, then new
// messages for the group, dispatching each through the handler.
func (r *Runtime) Tick(ctx context.Context, streamKey, group, consumerName string, handler Handler) error {
	pending, err := r.stream.ReadPending(ctx, streamKey, group, consumerName, pendingBatch, pendingBlock)
	if err != nil {
		return err
	}
	for _, msg := range pending {
		r.dispatch(ctx, streamKey, group, msg, handler)
	}

	fresh, err := r.stream.ReadNew(ctx, streamKey, group, consumerName, newBatch, newBlock)
	if err != nil {
		return err
	}
	for _, msg := range fresh {
		r.dispatch(ctx, streamKey, group, msg, handler)
	}
	return nil
}

func (r *Runtime) dispatch(ctx context.Context, streamKey, group string, msg StreamMessage, handler Handler) {
	event := &events.InterAppEvent{}
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		r.logger.Errorw("dropping undecodable event",
			"stream", streamKey,
			"message_id", msg.ID,
			"failure_class", types.FailureContractDrift,
			"error", err,
		)
		r.ack(ctx, streamKey, group, msg.ID)
		return
	}

	if err := event.Validate(); err != nil {
		r.logger.Errorw("dropping event outside contract",
			"stream", streamKey,
			"event_id", event.EventID,
			"failure_class", types.FailureContractDrift,
			"error", err,
		)
		r.ack(ctx, streamKey, group, msg.ID)
		r.acknowledge(ctx, event, types.AckStatusFailed, &events.AckError{
			Class:   types.FailureContractDrift,
			Message: err.Error(),
		})
		return
	}

	// Idempotent replay: a redelivered event inside the window is
	// acknowledged without re-running the handler.
	if _, seen := r.window.Get(event.EventID); seen {
		r.logger.Debugw("skipping already processed event",
			"stream", streamKey,
			"event_id", event.EventID,
		)
		r.ack(ctx, streamKey, group, msg.ID)
		return
	}

	err := r.invoke(ctx, event, handler)
	if r.windowSize > 0 && r.window.ItemCount() >= r.windowSize {
		r.window.DeleteExpired()
	}
	r.window.SetDefault(event.EventID, struct{}{})
	r.ack(ctx, streamKey, group, msg.ID)

	if err != nil {
		r.logger.Errorw("handler failed after retries",
			"stream", streamKey,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"failure_class", types.FailureConsumerProcessingFailure,
			"error", err,
		)
		r.acknowledge(ctx, event, types.AckStatusFailed, &events.AckError{
			Class:   types.FailureConsumerProcessingFailure,
			Message: err.Error(),
		})
		return
	}

	r.acknowledge(ctx, event, types.AckStatusProcessed, nil)
}

func (r *Runtime) invoke(ctx context.Context, event *events.InterAppEvent, handler Handler) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if err = handler(ctx, event); err == nil {
			return nil
		}
	}
	return err
}

func (r *Runtime) ack(ctx context.Context, streamKey, group, id string) {
	if err := r.stream.Ack(ctx, streamKey, group, id); err != nil {
		r.logger.Errorw("failed to ack message",
			"stream", streamKey,
			"message_id", id,
			"error", err,
		)
	}
}

// acknowledge mirrors the processing outcome back to the publisher. Ack
// publication is best effort; a lost ack only delays the retry scanner.
func (r *Runtime) acknowledge(ctx context.Context, event *events.InterAppEvent, status types.AckStatus, ackErr *events.AckError) {
	ack := &events.AcknowledgmentEvent{
		OriginalEventID: event.EventID,
		Status:          status,
		ProcessedAt:     time.Now().UTC(),
		Error:           ackErr,
	}
	if status == types.AckStatusProcessed {
		ack.Result = "ok"
	}

	if err := r.publisher.PublishAcknowledgment(ctx, event.SourceApplication, ack); err != nil {
		r.logger.Errorw("failed to publish acknowledgment",
			"event_id", event.EventID,
			"status", status,
			"failure_class", ierr.ErrCodeOf(err),
			"error", err,
		)
	}
}
