// redis.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each record as a Redis hash and relies on key expiry for
// TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromURL accepts redis:// and rediss:// URLs.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return NewRedisStore(options)
}

// WithPrefix namespaces every key, e.g. "secret:".
func (r *RedisStore) WithPrefix(prefix string) *RedisStore {
	r.prefix = prefix
	return r
}

func (r *RedisStore) SetFields(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return r.client.HSet(ctx, r.key(key), values).Err()
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return r.client.Expire(ctx, r.key(key), ttl).Err()
}

func (r *RedisStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}
