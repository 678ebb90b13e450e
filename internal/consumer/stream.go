package consumer

import (
	"context"
	"strings"
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/redis/go-redis/v9"
)

// StreamMessage is one delivered entry from a consumer-group stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Stream is the durable consumer-group surface the runtime reads from. The
// production implementation sits on Redis streams; tests use an in-memory
// one.
type Stream interface {
	// EnsureGroup creates the consumer group, creating the stream if
	// needed. Idempotent.
	EnsureGroup(ctx context.Context, streamKey, group string) error
	// ReadPending drains messages already assigned to this consumer from
	// a previous session.
	ReadPending(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	// ReadNew blocks up to the given duration for fresh messages.
	ReadNew(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	// Ack confirms processing of a delivered message.
	Ack(ctx context.Context, streamKey, group string, ids ...string) error
	// Append adds a payload to the stream. Used by bridges feeding the
	// stream from the broker.
	Append(ctx context.Context, streamKey string, payload []byte) (string, error)
}

const payloadField = "payload"

type redisStream struct {
	client redis.UniversalClient
}

// NewRedisStream wraps a Redis client as a Stream.
func NewRedisStream(client redis.UniversalClient) Stream {
	return &redisStream{client: client}
}

func (s *redisStream) EnsureGroup(ctx context.Context, streamKey, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return ierr.WithError(err).
			WithHint("Failed to create consumer group").
			WithReportableDetails(map[string]any{
				"stream": streamKey,
				"group":  group,
			}).
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (s *redisStream) ReadPending(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	return s.read(ctx, streamKey, group, consumer, "0", count, block)
}

func (s *redisStream) ReadNew(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	return s.read(ctx, streamKey, group, consumer, ">", count, block)
}

func (s *redisStream) read(ctx context.Context, streamKey, group, consumer, cursor string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, cursor},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read from consumer group").
			WithReportableDetails(map[string]any{
				"stream": streamKey,
				"group":  group,
			}).
			Mark(ierr.ErrSystem)
	}

	messages := []StreamMessage{}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			payload, _ := msg.Values[payloadField].(string)
			messages = append(messages, StreamMessage{
				ID:      msg.ID,
				Payload: []byte(payload),
			})
		}
	}
	return messages, nil
}

func (s *redisStream) Ack(ctx context.Context, streamKey, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.XAck(ctx, streamKey, group, ids...).Err()
}

func (s *redisStream) Append(ctx context.Context, streamKey string, payload []byte) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
}
