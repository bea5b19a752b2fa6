package cache

import (
	"context"
	"time"
)

// Store is the ephemeral key-value store behind result and filter-option
// caching. Implementations must treat a missing key as (nil, false, nil),
// not an error; callers already treat store errors as cache misses.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A zero ttl stores without
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key starting with prefix and returns
	// how many were deleted.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Close releases the store's resources.
	Close() error
}
