// Package metadata keeps client bookkeeping values, such as the last sync
// marker, in a key/value table of the local store.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyLastSync = "last_sync"
	KeyUser     = "user"
)

type Repository interface {
	// GetInt returns the integer stored under key; ok is false when unset.
	GetInt(ctx context.Context, key string) (v int64, ok bool, err error)
	SetInt(ctx context.Context, key string, v int64) error
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, v string) error
	Delete(ctx context.Context, key string) error
}
