// Package bus provides the Redis Streams transport shared by the gateway
// and the brain. Entries travel as flat string field maps on two streams:
// chat lines flow gateway to brain on the IN stream, replies flow back on
// the OUT stream. Consumer groups give at-least-once delivery; callers ack
// after processing and must tolerate duplicates.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

// Message is one stream entry: the server-assigned id plus its fields.
type Message struct {
	ID     string
	Fields map[string]string
}

// Bus is a thin client over a single Redis connection pool. Methods are
// safe for concurrent use.
type Bus struct {
	client *redis.Client
}

// Connect parses a Redis URL, dials it, and verifies the server responds.
func Connect(ctx context.Context, url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{client: client}, nil
}

// EnsureGroup creates the consumer group on stream starting from the
// beginning, materializing the stream if it does not exist yet. A group
// that already exists is not an error.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0-0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// Bootstrap appends a marker entry so the stream exists before the first
// real producer writes to it. Consumers skip it via the type field check.
func (b *Bus) Bootstrap(ctx context.Context, stream string) error {
	_, err := b.Add(ctx, stream, map[string]string{
		"_bootstrap": "1",
		"ts":         strconv.FormatInt(time.Now().Unix(), 10),
	})
	return err
}

// Add appends fields to stream and returns the assigned entry id.
func (b *Bus) Add(ctx context.Context, stream string, fields map[string]string) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadGroup reads up to count entries for consumer from stream. from is
// ">" for never-delivered entries or "0" for this consumer's pending
// backlog. A block timeout elapsing is not an error; the batch is simply
// empty.
func (b *Bus) ReadGroup(ctx context.Context, stream, group, consumer, from string, count int64, block time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, from},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	return flatten(res), nil
}

// Ack acknowledges processed entry ids. An empty batch is a no-op, and
// acking an id twice is harmless.
func (b *Bus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// ClaimStale transfers ownership of pending entries whose consumer has
// been idle for at least minIdle, scanning from the start of the pending
// list. Errors degrade to an empty batch so a transient server hiccup
// cannot take down the caller's loop; the entries stay pending and a
// later scan picks them up.
func (b *Bus) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) []Message {
	res, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil
	}
	msgs := make([]Message, 0, len(res))
	for _, m := range res {
		msgs = append(msgs, toMessage(m))
	}
	return msgs
}

// Close releases the underlying connection pool.
func (b *Bus) Close() error {
	return b.client.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func toMessage(m redis.XMessage) Message {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return Message{ID: m.ID, Fields: fields}
}

func flatten(streams []redis.XStream) []Message {
	var msgs []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msgs = append(msgs, toMessage(m))
		}
	}
	return msgs
}
