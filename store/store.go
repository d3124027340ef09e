// Package store provides the persistence layer for conversations: a small
// key/value interface with in-memory, Redis, and SQLite backends, plus a
// read-through cache for loaded conversation objects.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the persistence backend. Conversations are stored whole, JSON
// encoded, keyed by thread identifier.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
