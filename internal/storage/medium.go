// Package storage is the durable key/value layer under the TTL cache. A
// Medium holds raw string values; Store adds JSON encoding, schema checks and
// the evict-and-retry protocol for full media.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded reports that the medium rejected a write for lack of
	// space. Store reacts with one eviction sweep and a single retry.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	// ErrUnavailable reports that the medium could not be reached at all.
	ErrUnavailable = errors.New("storage: medium unavailable")
)

// Medium is a flat string key/value store. Get reports ok=false for missing
// keys without an error.
type Medium interface {
	Name() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}
