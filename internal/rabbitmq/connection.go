package rabbitmq

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/creditrail/creditrail/internal/config"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection manages one broker connection and its confirm-mode channel. On
// connection loss a background task reconnects with fixed-interval retries
// and re-asserts both exchanges; the declarations are idempotent.
type Connection struct {
	cfg    *config.RabbitMQConfig
	logger *logger.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	ready   chan struct{}
	closed  bool

	onChannel []func(*amqp.Channel)
}

// NewConnection dials the broker, opens a confirm-mode channel, and declares
// the topic and fanout exchanges.
func NewConnection(cfg *config.Configuration, logger *logger.Logger) (*Connection, error) {
	if cfg.RabbitMQ.GetURL() == "" || cfg.RabbitMQ.GetURL() == "://:@:0" {
		return nil, ierr.NewError("broker connection settings missing").
			WithHint("Set the broker URL or hostname credentials").
			Mark(ierr.ErrAuthConfiguration)
	}

	c := &Connection{
		cfg:    &cfg.RabbitMQ,
		logger: logger,
		ready:  make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.cfg.GetURL())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Could not reach the message broker").
			Mark(ierr.ErrBrokerUnavailable)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return ierr.WithError(err).
			WithHint("Could not open a broker channel").
			Mark(ierr.ErrBrokerUnavailable)
	}

	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return ierr.WithError(err).
			WithHint("Broker refused confirm mode").
			Mark(ierr.ErrBrokerUnavailable)
	}

	if err := declareExchanges(channel, c.cfg); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	close(c.ready)
	handlers := make([]func(*amqp.Channel), len(c.onChannel))
	copy(handlers, c.onChannel)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(channel)
	}

	go c.watch(conn)
	return nil
}

func declareExchanges(channel *amqp.Channel, cfg *config.RabbitMQConfig) error {
	for name, kind := range map[string]string{
		cfg.TopicExchange:  "topic",
		cfg.FanoutExchange: "fanout",
	} {
		if err := channel.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to declare exchange").
				WithReportableDetails(map[string]any{
					"exchange": name,
					"kind":     kind,
				}).
				Mark(ierr.ErrBrokerUnavailable)
		}
	}
	return nil
}

// watch blocks on the connection's close notification and drives the
// reconnect loop.
func (c *Connection) watch(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		// Clean shutdown.
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.channel = nil
	c.ready = make(chan struct{})
	c.mu.Unlock()

	c.logger.Errorw("broker connection lost, reconnecting",
		"error", closeErr,
		"max_attempts", c.cfg.MaxReconnects,
	)

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.cfg.ReconnectInterval),
		uint64(c.cfg.MaxReconnects),
	)
	err := backoff.Retry(func() error {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return backoff.Permanent(ierr.ErrBrokerUnavailable)
		}
		return c.connect()
	}, policy)
	if err != nil {
		c.logger.Errorw("broker reconnection attempts exhausted", "error", err)
	}
}

// OnChannel registers a handler invoked with the current channel now and with
// every replacement channel after a reconnect. Used to re-install return
// handlers and consumers.
func (c *Connection) OnChannel(handler func(*amqp.Channel)) {
	c.mu.Lock()
	c.onChannel = append(c.onChannel, handler)
	channel := c.channel
	c.mu.Unlock()

	if channel != nil {
		handler(channel)
	}
}

// Channel returns the live channel, waiting up to the context bound while a
// reconnect is in flight.
func (c *Connection) Channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		c.mu.RLock()
		channel := c.channel
		ready := c.ready
		closed := c.closed
		c.mu.RUnlock()

		if closed {
			return nil, ierr.NewError("broker connection closed").
				Mark(ierr.ErrBrokerUnavailable)
		}
		if channel != nil {
			return channel, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ierr.WithError(ctx.Err()).
				WithHint("Broker did not come back within the publish bound").
				Mark(ierr.ErrBrokerUnavailable)
		}
	}
}

// Close shuts the connection down for good; the watcher will not reconnect.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
