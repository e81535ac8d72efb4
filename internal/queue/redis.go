package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// Redis defaults.
const (
	// DefaultRedisKey is the list holding pending tasks.
	DefaultRedisKey = "evalrun:tasks"

	// DefaultRedisConnectTimeout bounds the connectivity check at construction.
	DefaultRedisConnectTimeout = 5 * time.Second

	// DefaultRedisPoolSize must exceed the number of concurrent receivers
	// because every blocked BRPOP holds a connection.
	DefaultRedisPoolSize = 16
)

// RedisConfig configures the Redis list transport.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db" validate:"gte=0"`
	Key            string        `yaml:"key"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	PoolSize       int           `yaml:"pool_size" validate:"gte=0"`
}

// Redis is a transport backed by a Redis list. Send pushes on the left and
// Receive pops on the right with BRPOP, so the queue is FIFO per producer but
// callers must not rely on ordering.
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

var _ Transport = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a ping bounded
// by the connect timeout.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultRedisConnectTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultRedisPoolSize
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.ConnectTimeout,
		PoolSize:    cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	q := NewRedisWithClient(client, cfg.Key)
	q.owned = true
	return q, nil
}

// NewRedisWithClient wraps an existing client. The client is not closed by
// Close.
func NewRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Send implements Transport.
func (q *Redis) Send(ctx context.Context, task domain.Task) error {
	raw, err := domain.EncodeTask(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("push task to %s: %w", q.key, err)
	}
	return nil
}

// Receive implements Transport.
func (q *Redis) Receive(ctx context.Context, timeout time.Duration) (domain.Task, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNoTask
	case errors.Is(err, redis.ErrClosed):
		return nil, ErrClosed
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pop task from %s: %w", q.key, err)
	}

	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return domain.DecodeTask([]byte(res[1]))
}

// Len returns the number of queued tasks.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close implements Transport.
func (q *Redis) Close() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}
