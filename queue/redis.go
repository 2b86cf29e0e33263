package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Name prefixes every key of the queue.
	Name string
	// PollWindow bounds how long Reserve blocks.
	PollWindow time.Duration
}

// RedisQueue is a reliable list queue:
//
//	<name>:ready                LPUSH on enqueue, consumed from the right
//	<name>:processing:<consumer> BLMOVE target while a job runs, LREM on ack
//	<name>:delayed              ZSET scored by due time, promoted to ready
type RedisQueue struct {
	rdb        *goredis.Client
	name       string
	pollWindow time.Duration
	log        *zap.Logger
}

var _ Queue = (*RedisQueue)(nil)

// promoteScript moves due members of the delayed set onto the ready list.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, msg in ipairs(due) do
  redis.call('ZREM', KEYS[1], msg)
  redis.call('LPUSH', KEYS[2], msg)
end
return #due
`)

// NewRedisQueue connects to Redis. Call WaitReady before use.
func NewRedisQueue(opts RedisOptions, logger *zap.Logger) *RedisQueue {
	if opts.PollWindow <= 0 {
		opts.PollWindow = 2 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
		// blocking reads must outlive the poll window
		ReadTimeout: opts.PollWindow + 5*time.Second,
	})
	return &RedisQueue{
		rdb:        rdb,
		name:       opts.Name,
		pollWindow: opts.PollWindow,
		log:        logger.With(zap.String("component", "queue"), zap.String("queue", opts.Name)),
	}
}

func (q *RedisQueue) readyKey() string   { return q.name + ":ready" }
func (q *RedisQueue) delayedKey() string { return q.name + ":delayed" }
func (q *RedisQueue) processingKey(consumer string) string {
	return q.name + ":processing:" + consumer
}

// WaitReady pings Redis until it answers or timeout passes.
func (q *RedisQueue) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return retry.Do(
		func() error { return q.rdb.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			q.log.Warn("redis not ready", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// Close closes the client.
func (q *RedisQueue) Close() error { return q.rdb.Close() }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("enqueue run %d: %w", job.RunID, err)
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, now, 100).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	return nil
}

func (q *RedisQueue) Reserve(ctx context.Context, consumer string) (*Delivery, error) {
	if err := q.promote(ctx); err != nil {
		return nil, fmt.Errorf("promote delayed jobs: %w", err)
	}
	raw, err := q.rdb.BLMove(ctx, q.readyKey(), q.processingKey(consumer), "RIGHT", "LEFT", q.pollWindow).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := decode(raw)
	if err != nil {
		// unreadable messages are dropped from the processing list
		q.log.Error("dropping malformed message", zap.String("raw", raw), zap.Error(err))
		_ = q.rdb.LRem(ctx, q.processingKey(consumer), 1, raw).Err()
		return nil, nil
	}
	return d, nil
}

func (q *RedisQueue) Ack(ctx context.Context, consumer string, d *Delivery) error {
	return q.rdb.LRem(ctx, q.processingKey(consumer), 1, d.raw).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, consumer string, d *Delivery, job Job, delay time.Duration) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAdd(ctx, q.delayedKey(), goredis.Z{Score: due, Member: raw})
		p.LRem(ctx, q.processingKey(consumer), 1, d.raw)
		return nil
	})
	return err
}

func (q *RedisQueue) Recover(ctx context.Context, consumer string) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(consumer), q.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.Warn("recovered unacknowledged jobs", zap.String("consumer", consumer), zap.Int("jobs", n))
	}
	return n, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	var ready, delayed *goredis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		ready = p.LLen(ctx, q.readyKey())
		delayed = p.ZCard(ctx, q.delayedKey())
		return nil
	})
	if err != nil {
		return Depth{}, err
	}
	var processing int64
	iter := q.rdb.Scan(ctx, 0, q.processingKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		n, err := q.rdb.LLen(ctx, iter.Val()).Result()
		if err != nil {
			return Depth{}, err
		}
		processing += n
	}
	if err := iter.Err(); err != nil {
		return Depth{}, err
	}
	return Depth{Ready: ready.Val(), Delayed: delayed.Val(), Processing: processing}, nil
}
