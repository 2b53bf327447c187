package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"studyflow/internal/config"
)

// RedisQueue coordinates ready and in-flight generation jobs in Redis.
// Ready queues are keyed by process type, dequeued in the configured order
// so interactive work (chat) is picked up before batch generation.
type RedisQueue struct {
	client        *redis.Client
	processQueues []string
	inflightKey   string
	jobMetaPrefix string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	queues := cfg.ProcessQueues
	if len(queues) == 0 {
		queues = []string{"chat", "flashcards", "test", "upload"}
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		processQueues: queues,
		inflightKey:   "queue:inflight",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
	}
}

// NewRedisQueueWithClient wires the queue onto an existing client,
// sharing the connection with the pub/sub publisher in tests.
func NewRedisQueueWithClient(client *redis.Client, processQueues []string, visibility time.Duration) *RedisQueue {
	return &RedisQueue{
		client:        client,
		processQueues: processQueues,
		inflightKey:   "queue:inflight",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
	}
}

// Client exposes the underlying Redis client so the publisher and rate
// limiter can share the connection.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) readyKey(processType string) string {
	return fmt.Sprintf("queue:ready:%s", processType)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Enqueue inserts a job into the ready queue for its process type.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, processType string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "process_type", processType)
	pipe.RPush(ctx, q.readyKey(processType), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DequeueWithLease pops a job from ready queues (process-type order) and
// places it into inflight with a visibility timeout.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.processQueues)+1)
	for _, p := range q.processQueues {
		keys = append(keys, q.readyKey(p))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them so a
// crashed worker does not strand a job without its terminal event.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		processType, err := q.client.HGet(ctx, q.metaKey(id), "process_type").Result()
		if err != nil || processType == "" {
			processType = q.processQueues[len(q.processQueues)-1]
		}
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(processType), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Cancel removes a job from ready and in-flight sets.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, p := range q.processQueues {
		pipe.LRem(ctx, q.readyKey(p), 0, jobID)
	}
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the total length of all ready queues.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.processQueues))
	for _, p := range q.processQueues {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(p)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
