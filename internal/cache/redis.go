// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/fairtable/internal/historian"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian queue lives in.
const DefaultQueueName = "fairtable_history"

// DefaultEventChannel is the pub/sub channel emitted events are mirrored to.
const DefaultEventChannel = "fairtable_events"

// Connect builds a client for addr/db and verifies it with a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// QueueSink pushes historian entries onto a Redis list for cmd/historian to
// persist. It satisfies historian.Sink.
type QueueSink struct {
	Client redis.Cmdable
	Queue  string
}

func (q QueueSink) Flush(ctx context.Context, entries []historian.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal historian entry: %w", err)
		}
		values = append(values, data)
	}
	if err := q.Client.RPush(ctx, q.queue(), values...).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue(), err)
	}
	return nil
}

// Pop blocks up to timeout for the next queued entry. ok is false when the
// timeout elapsed with nothing queued.
func (q QueueSink) Pop(ctx context.Context, timeout time.Duration) (e historian.Entry, ok bool, err error) {
	res, err := q.Client.BLPop(ctx, timeout, q.queue()).Result()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("BLPop: %w", err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return e, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
		return e, false, fmt.Errorf("invalid historian entry: %w", err)
	}
	return e, true, nil
}

func (q QueueSink) queue() string {
	if q.Queue == "" {
		return DefaultQueueName
	}
	return q.Queue
}

// RelayMessage is the envelope mirrored to the event channel.
type RelayMessage struct {
	SessionID string          `json:"session_id,omitempty"`
	PlayerID  string          `json:"player_id,omitempty"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Relay mirrors emitted events to Redis pub/sub so other processes (audit
// tools, a second gateway node) can observe them.
type Relay struct {
	Client  redis.Cmdable
	Channel string
}

func (r Relay) Publish(ctx context.Context, msg RelayMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	channel := r.Channel
	if channel == "" {
		channel = DefaultEventChannel
	}
	if err := r.Client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", channel, err)
	}
	return nil
}
