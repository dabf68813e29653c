// Package store provides the key/value document store backing the
// deduplication ledger and the active-ticket mapping. Each concern lives in
// its own collection; single-key reads and writes are atomic, which is all
// the correlation engine relies on.
package store

import (
	"context"
	"errors"
)

// Collections used by the correlation engine.
const (
	CollectionProcessedCalls = "processed_calls"
	CollectionActiveTickets  = "active_tickets"
)

// ErrNotFound is returned by Get when the key does not exist in the collection.
var ErrNotFound = errors.New("store: key not found")

// Store is a passive persistence layer with per-document atomicity. It holds
// no business logic; ownership of the records lives with the callers.
type Store interface {
	Get(ctx context.Context, collection, key string) (string, error)
	Set(ctx context.Context, collection, key, value string) error
	Delete(ctx context.Context, collection, key string) error
	Exists(ctx context.Context, collection, key string) (bool, error)
}
