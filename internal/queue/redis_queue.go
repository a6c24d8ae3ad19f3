// Package queue tracks execution ids across ready, in-flight and scheduled
// structures in Redis.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"report-dispatcher/internal/config"
)

const defaultPriority = "default"

// NewClient opens the Redis client shared by the queue, rate limiter and
// notification enqueuer.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Options configures a RedisQueue.
type Options struct {
	Priorities []string
	Visibility time.Duration
	DLQKey     string
}

// OptionsFromConfig maps the queue settings of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Priorities: cfg.PriorityQueues,
		Visibility: cfg.VisibilityTimeout,
		DLQKey:     cfg.DLQName,
	}
}

// RedisQueue holds execution ids. Ready lists are drained in priority order;
// leased ids sit in a sorted set scored by their visibility deadline.
type RedisQueue struct {
	client        *redis.Client
	priorities    []string
	inflightKey   string
	scheduledKey  string
	metaPrefix    string
	visibilityTTL time.Duration
	dlqKey        string
	now           func() time.Time
}

// NewRedisQueue builds a queue on client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	priorities := opts.Priorities
	if len(priorities) == 0 {
		priorities = []string{defaultPriority}
	}
	visibility := opts.Visibility
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := opts.DLQKey
	if dlq == "" {
		dlq = "executions:dlq"
	}
	return &RedisQueue{
		client:        client,
		priorities:    priorities,
		inflightKey:   "executions:inflight",
		scheduledKey:  "executions:scheduled",
		metaPrefix:    "executions:meta:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
		now:           time.Now,
	}
}

func (q *RedisQueue) readyKey(priority string) string {
	return fmt.Sprintf("executions:ready:%s", priority)
}

func (q *RedisQueue) metaKey(id string) string {
	return q.metaPrefix + id
}

// Priorities lists the configured priorities, highest first.
func (q *RedisQueue) Priorities() []string {
	return append([]string(nil), q.priorities...)
}

// Known reports whether priority has a ready list.
func (q *RedisQueue) Known(priority string) bool {
	for _, p := range q.priorities {
		if p == priority {
			return true
		}
	}
	return false
}

// Enqueue places id in the ready list for priority, or in the scheduled set
// when runAt is in the future.
func (q *RedisQueue) Enqueue(ctx context.Context, id, priority string, runAt time.Time) error {
	if priority == "" {
		priority = defaultPriority
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(id), "priority", priority)
	if runAt.After(q.now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	} else {
		pipe.RPush(ctx, q.readyKey(priority), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Schedule defers id until runAt and releases any lease it holds.
func (q *RedisQueue) Schedule(ctx context.Context, id, priority string, runAt time.Time) error {
	if priority == "" {
		priority = defaultPriority
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(id), "priority", priority)
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	return nil
}

// PromoteScheduled moves due scheduled ids into their ready lists.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.moveDue(ctx, q.scheduledKey, now, limit)
	if err != nil {
		return 0, fmt.Errorf("promote scheduled: %w", err)
	}
	return len(ids), nil
}

// RequeueExpired moves ids whose lease deadline passed back to ready.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.moveDue(ctx, q.inflightKey, now, limit)
	if err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	return ids, nil
}

// moveDue pops members of the sorted set at key scored at or before now and
// pushes each onto the ready list of its recorded priority.
func (q *RedisQueue) moveDue(ctx context.Context, key string, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, key, id)
		pipe.RPush(ctx, q.readyKey(q.priorityOf(ctx, id)), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *RedisQueue) priorityOf(ctx context.Context, id string) string {
	priority, err := q.client.HGet(ctx, q.metaKey(id), "priority").Result()
	if err != nil || !q.Known(priority) {
		return defaultPriority
	}
	return priority
}

// DequeueWithLease pops the next id in priority order and leases it for the
// visibility timeout. It returns "" when every ready list is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.priorities)+1)
	for _, p := range q.priorities {
		keys = append(keys, q.readyKey(p))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, q.now().Add(q.visibilityTTL).UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return id, nil
}

// ExtendLease pushes the visibility deadline of a leased id forward. An id
// that was acked or cancelled in the meantime is left out.
func (q *RedisQueue) ExtendLease(ctx context.Context, id string, extension time.Duration) error {
	err := q.client.ZAddArgs(ctx, q.inflightKey, redis.ZAddArgs{
		XX: true,
		Members: []redis.Z{{
			Score:  float64(q.now().Add(extension).UnixMilli()),
			Member: id,
		}},
	}).Err()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", id, err)
	}
	return nil
}

// Ack drops the lease and metadata of a finished id.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.Del(ctx, q.metaKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Cancel removes id from every structure.
func (q *RedisQueue) Cancel(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	for _, p := range q.priorities {
		pipe.LRem(ctx, q.readyKey(p), 0, id)
	}
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.ZRem(ctx, q.scheduledKey, id)
	pipe.Del(ctx, q.metaKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// DLQPush records a dead-lettered id.
func (q *RedisQueue) DLQPush(ctx context.Context, id string) error {
	return q.client.RPush(ctx, q.dlqKey, id).Err()
}

// DLQPeek returns up to count dead-lettered ids, oldest first.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth is the total length of every ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.priorities))
	for _, p := range q.priorities {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ready depth: %w", err)
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// InFlight is the number of leased ids.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local id = redis.call('LPOP', KEYS[i])
  if id then
    redis.call('ZADD', inflight, ARGV[1], id)
    return id
  end
end
return nil
`)
