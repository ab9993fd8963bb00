// Package presence answers "is user U online, and on which chat server"
// across independently running processes. State lives in an external
// key-value store; every mutation is a single-key operation.
package presence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store reads for an absent key or hash field.
var ErrNotFound = errors.New("presence: key not found")

// Store is the subset of cache commands the directory needs. Implementations
// must make each call atomic on its own key; nothing assumes multi-key
// transactions.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key, field string) error
}
