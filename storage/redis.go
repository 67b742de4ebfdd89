package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Storage = (*Redis)(nil)

// Redis is a Storage backed by a Redis server, letting several client
// processes share one session.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// RedisOption configures a Redis storage.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key written to Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithOperationTimeout bounds each Redis round trip. Zero means no bound.
func WithOperationTimeout(timeout time.Duration) RedisOption {
	return func(r *Redis) {
		r.timeout = timeout
	}
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, options ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("[storage.NewRedis] client is required")
	}
	r := &Redis{client: client}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// DialRedis creates a client for addr and checks it is reachable
func DialRedis(ctx context.Context, addr, password string, options ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "[storage.DialRedis] ping")
	}
	return NewRedis(client, options...)
}

func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := r.context()
	defer cancel()

	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "[Redis.Get]")
	}
	return value, true, nil
}

func (r *Redis) Set(key, value string) error {
	ctx, cancel := r.context()
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return errors.Wrap(err, "[Redis.Set]")
	}
	return nil
}

func (r *Redis) Remove(key string) error {
	ctx, cancel := r.context()
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, "[Redis.Remove]")
	}
	return nil
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) context() (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), r.timeout)
}
