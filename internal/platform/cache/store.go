package cache

import (
	"context"
	"time"
)

// DefaultTTL is the default retention for cached ranking and report payloads.
const DefaultTTL = 5 * time.Minute

// Entry captures a cached payload together with its lifecycle timestamps.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists fingerprint-keyed payloads with a TTL. Implementations must
// treat an expired entry as absent.
type Store interface {
	// Get returns the payload for key when present and unexpired.
	Get(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	// Set stores the payload under key with the provided TTL.
	Set(ctx context.Context, key string, value []byte, now time.Time, ttl time.Duration) error
	// Delete removes the entry for key if present.
	Delete(ctx context.Context, key string) error
	// CleanupExpired removes up to limit expired entries and reports how many were removed.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}
