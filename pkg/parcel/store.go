package parcel

import (
	"context"
	"time"
)

// Store maps download tokens to archive paths. Records expire on their own
// once ttl has elapsed.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrNotFound if key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
