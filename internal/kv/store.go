package kv

import (
	"context"
	"errors"
)

// ErrNotFound indicates absent key.
var ErrNotFound = errors.New("not found")

// Store persists small opaque values under string keys.
// Params: whole-value get/put/delete operations; each key is one atomic unit.
// Returns: backend persistence behavior.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
