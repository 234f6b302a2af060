package port

import (
	"context"
	"errors"
	"time"
)

// Cache is a small string key-value cache with expiry. The user directory keeps short-lived
// search results here so repeated lookups do not re-read the whole users tree.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value for ttl. A ttl <= 0 keeps the key until it is evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss lets callers tell a miss apart from a transport failure.
var ErrMiss = errors.New("cache: miss")
