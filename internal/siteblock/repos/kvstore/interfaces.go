package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("kvstore: store is closed")
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("kvstore: write in read-only transaction")
)

// Tx is a view of the store inside a single transaction. Values are JSON
// encoded; Get decodes into v and reports whether the key was present.
type Tx interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any) error
	Delete(key string) error
}

// Change reports that key was written at Revision. Changes may be coalesced:
// a watcher that sees one change should re-read the key rather than assume it
// saw every intermediate write.
type Change struct {
	Key      string
	Revision uint64
}

// Store is the persisted key-value store shared by every siteblock process.
//
// Update runs fn atomically; a non-nil error from fn discards every write made
// through the Tx. Writers in different processes race last-write-wins.
// Watch streams changes to the given keys (all keys when none are given)
// until ctx is done, then closes the channel.
type Store interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any) error
	Delete(key string) error
	Update(fn func(Tx) error) error
	View(fn func(Tx) error) error
	Watch(ctx context.Context, keys ...string) <-chan Change
	Revision() (uint64, error)
	Close() error
}
