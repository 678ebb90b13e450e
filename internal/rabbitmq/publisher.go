package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventPublisher publishes inter-application events on a confirm-mode
// channel. Every publish to the topic exchange is persistent and mandatory;
// messages the broker cannot route to any queue come back through the return
// handler and are counted, without failing the original publish.
type EventPublisher struct {
	conn   *Connection
	cfg    *config.Configuration
	logger *logger.Logger

	// The channel is a single-writer abstraction; the mutex preserves
	// publish order for this logical sender.
	publishMu sync.Mutex

	flowMu sync.Mutex
	flow   *sync.Cond
	paused bool

	unroutable atomic.Int64
}

var _ publisher.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher wires the publisher to a broker connection and installs
// the return and flow handlers on the current channel and every replacement.
func NewEventPublisher(conn *Connection, cfg *config.Configuration, logger *logger.Logger) *EventPublisher {
	p := &EventPublisher{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
	}
	p.flow = sync.NewCond(&p.flowMu)

	conn.OnChannel(func(channel *amqp.Channel) {
		go p.handleReturns(channel.NotifyReturn(make(chan amqp.Return, 16)))
		go p.handleFlow(channel.NotifyFlow(make(chan bool, 1)))
	})

	return p
}

func (p *EventPublisher) handleReturns(returns <-chan amqp.Return) {
	for ret := range returns {
		p.unroutable.Add(1)
		p.logger.Errorw("message returned as unroutable",
			"event_id", ret.MessageId,
			"exchange", ret.Exchange,
			"routing_key", ret.RoutingKey,
			"reply_code", ret.ReplyCode,
			"reply_text", ret.ReplyText,
			"failure_class", types.FailureUnroutableMessage,
		)
	}
}

func (p *EventPublisher) handleFlow(flow <-chan bool) {
	for active := range flow {
		p.flowMu.Lock()
		p.paused = !active
		if active {
			p.flow.Broadcast()
		}
		p.flowMu.Unlock()
	}
	// Channel closed; release any waiter so it can pick up the new channel.
	p.flowMu.Lock()
	p.paused = false
	p.flow.Broadcast()
	p.flowMu.Unlock()
}

// waitForDrain suspends the caller while the broker has throttled the
// channel.
func (p *EventPublisher) waitForDrain() {
	p.flowMu.Lock()
	for p.paused {
		p.flow.Wait()
	}
	p.flowMu.Unlock()
}

// Publish sends an event to the target application and awaits broker
// confirmation.
func (p *EventPublisher) Publish(ctx context.Context, targetApplication string, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	routingKey := types.DeriveRoutingKey(targetApplication, eventType)
	return p.publish(ctx, p.cfg.RabbitMQ.TopicExchange, routingKey, true, targetApplication, eventType, entityID, data)
}

// PublishBroadcast posts to the fanout exchange with an empty routing key.
func (p *EventPublisher) PublishBroadcast(ctx context.Context, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	return p.publish(ctx, p.cfg.RabbitMQ.FanoutExchange, "", false, "", eventType, entityID, data)
}

// PublishAcknowledgment mirrors a processing outcome to the source
// application's ack channel. Acks are not mandatory: a source that does not
// listen loses nothing but its own telemetry.
func (p *EventPublisher) PublishAcknowledgment(ctx context.Context, sourceApplication string, ack *events.AcknowledgmentEvent) error {
	_, err := p.publish(ctx, p.cfg.RabbitMQ.TopicExchange, types.AckRoutingKey(sourceApplication),
		false, sourceApplication, types.EventAcknowledgment, "", ack)
	return err
}

func (p *EventPublisher) publish(ctx context.Context, exchange, routingKey string, mandatory bool, targetApplication string, eventType types.InterAppEventType, entityID string, data any) (*events.PublishReceipt, error) {
	now := time.Now().UTC()

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Event payload does not serialize").
			Mark(ierr.ErrContractDrift)
	}

	publishedBy := types.GetUserID(ctx)
	if publishedBy == "" {
		publishedBy = types.SystemUserID
	}

	envelope := &events.InterAppEvent{
		EventID:           events.NewEventID(now),
		EventType:         eventType,
		SourceApplication: p.cfg.Service.Name,
		TargetApplication: targetApplication,
		TenantID:          types.GetTenantID(ctx),
		EntityID:          entityID,
		Timestamp:         now,
		EventData:         payload,
		PublishedBy:       publishedBy,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Event envelope does not serialize").
			Mark(ierr.ErrContractDrift)
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.waitForDrain()

	channel, err := p.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}

	confirmation, err := channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, mandatory, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.EventID,
			Timestamp:    now,
			Body:         body,
		})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Broker rejected the publish").
			WithReportableDetails(map[string]any{
				"event_id":    envelope.EventID,
				"routing_key": routingKey,
			}).
			Mark(ierr.ErrBrokerUnavailable)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.cfg.RabbitMQ.ConfirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Broker did not confirm the publish in time").
			WithReportableDetails(map[string]any{
				"event_id":    envelope.EventID,
				"routing_key": routingKey,
			}).
			Mark(ierr.ErrPublishConfirmTimeout)
	}
	if !acked {
		return nil, ierr.NewError("broker rejected the publish").
			WithReportableDetails(map[string]any{
				"event_id":    envelope.EventID,
				"routing_key": routingKey,
			}).
			Mark(ierr.ErrBrokerUnavailable)
	}

	p.logger.Debugw("published inter-app event",
		"event_id", envelope.EventID,
		"event_type", eventType,
		"routing_key", routingKey,
	)

	return &events.PublishReceipt{
		EventID:    envelope.EventID,
		RoutingKey: routingKey,
	}, nil
}

// UnroutableCount reports how many messages the broker has returned.
func (p *EventPublisher) UnroutableCount() int64 {
	return p.unroutable.Load()
}

func (p *EventPublisher) Close() error {
	return p.conn.Close()
}
