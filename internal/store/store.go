package store

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidTTL = errors.New("ttl must be positive")

// Store is a key-value store of string hashes with per-key expiry. An expired
// key is indistinguishable from one that was never written.
type Store interface {
	SetFields(ctx context.Context, key string, fields map[string]string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// GetAll returns an empty map when the key is absent or expired.
	GetAll(ctx context.Context, key string) (map[string]string, error)
	// Delete reports whether a live key was removed. Of several concurrent
	// deletes of the same key, at most one reports true.
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
