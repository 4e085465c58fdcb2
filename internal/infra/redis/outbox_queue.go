// internal/infra/redis/outbox_queue.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offer-engine/internal/notify"

	r "github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "offer-engine:outbox"
	popBlock         = time.Second
)

// OutboxQueue is a notify.Queue backed by Redis lists, so messages survive an
// engine restart and can be drained by a separate notifier process.
type OutboxQueue struct {
	rdb     *r.Client
	key     string
	deadKey string
	size    int64
}

var _ notify.Queue = (*OutboxQueue)(nil)

// NewOutboxQueue creates a queue under prefix holding at most size pending
// messages. size <= 0 leaves it unbounded.
func NewOutboxQueue(rdb *r.Client, prefix string, size int) *OutboxQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &OutboxQueue{
		rdb:     rdb,
		key:     prefix + ":pending",
		deadKey: prefix + ":dead",
		size:    int64(size),
	}
}

// pushScript checks the bound and pushes in one step, so concurrent
// producers cannot overshoot it. ARGV[2] <= 0 means unbounded.
var pushScript = r.NewScript(`
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call('LLEN', KEYS[1]) >= limit then
	return -1
end
return redis.call('LPUSH', KEYS[1], ARGV[1])
`)

func (q *OutboxQueue) Push(ctx context.Context, msg *notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	n, err := pushScript.Run(ctx, q.rdb, []string{q.key}, payload, q.size).Int64()
	if err != nil {
		return fmt.Errorf("failed to push to outbox: %w", err)
	}
	if n < 0 {
		return notify.ErrQueueFull
	}
	return nil
}

// Pop blocks in short BRPOP rounds so cancellation is noticed promptly.
func (q *OutboxQueue) Pop(ctx context.Context) (*notify.Message, error) {
	for {
		res, err := q.rdb.BRPop(ctx, popBlock, q.key).Result()
		if errors.Is(err, r.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			continue
		}
		var msg notify.Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			// A payload we cannot read would poison the queue; park it raw.
			_ = q.rdb.LPush(ctx, q.deadKey, res[1]).Err()
			return nil, fmt.Errorf("failed to decode outbox message: %w", err)
		}
		return &msg, nil
	}
}

func (q *OutboxQueue) DeadLetter(ctx context.Context, msg *notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return q.rdb.LPush(ctx, q.deadKey, payload).Err()
}

// Pending is the number of messages waiting for delivery.
func (q *OutboxQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// DeadLetters returns up to limit parked messages, newest first.
func (q *OutboxQueue) DeadLetters(ctx context.Context, limit int64) ([]*notify.Message, error) {
	raw, err := q.rdb.LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*notify.Message, 0, len(raw))
	for _, s := range raw {
		var msg notify.Message
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}
