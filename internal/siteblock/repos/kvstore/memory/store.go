package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

// Store is an in-process kvstore.Store. Values are kept JSON encoded so that
// callers observe the same copy semantics as with the bolt store.
type Store struct {
	mu       sync.RWMutex
	values   map[string][]byte
	revision uint64
	closed   bool
	hub      *kvstore.Hub
}

// New returns an empty memory store.
func New() *Store {
	return &Store{values: make(map[string][]byte), hub: kvstore.NewHub()}
}

func (s *Store) Get(key string, v any) (bool, error) {
	var found bool
	err := s.View(func(tx kvstore.Tx) error {
		var err error
		found, err = tx.Get(key, v)
		return err
	})
	return found, err
}

func (s *Store) Set(key string, v any) error {
	return s.Update(func(tx kvstore.Tx) error { return tx.Set(key, v) })
}

func (s *Store) Delete(key string) error {
	return s.Update(func(tx kvstore.Tx) error { return tx.Delete(key) })
}

// Update stages writes and applies them only when fn succeeds.
func (s *Store) Update(fn func(kvstore.Tx) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kvstore.ErrClosed
	}
	tx := &txn{base: s.values, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	var changes []kvstore.Change
	if len(tx.writes) > 0 {
		s.revision++
		keys := make([]string, 0, len(tx.writes))
		for k := range tx.writes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if raw := tx.writes[k]; raw == nil {
				delete(s.values, k)
			} else {
				s.values[k] = raw
			}
			changes = append(changes, kvstore.Change{Key: k, Revision: s.revision})
		}
	}
	s.mu.Unlock()

	s.hub.Publish(changes...)
	return nil
}

func (s *Store) View(fn func(kvstore.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kvstore.ErrClosed
	}
	return fn(&txn{base: s.values, readOnly: true})
}

func (s *Store) Watch(ctx context.Context, keys ...string) <-chan kvstore.Change {
	return s.hub.Subscribe(ctx, keys...)
}

func (s *Store) Revision() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, kvstore.ErrClosed
	}
	return s.revision, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

// txn overlays staged writes on the committed values. A nil staged value
// marks a deletion.
type txn struct {
	base     map[string][]byte
	writes   map[string][]byte
	readOnly bool
}

func (t *txn) Get(key string, v any) (bool, error) {
	raw, staged := t.writes[key]
	if !staged {
		raw = t.base[key]
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (t *txn) Set(key string, v any) error {
	if t.readOnly {
		return kvstore.ErrReadOnly
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	t.writes[key] = raw
	return nil
}

func (t *txn) Delete(key string) error {
	if t.readOnly {
		return kvstore.ErrReadOnly
	}
	t.writes[key] = nil
	return nil
}

var _ kvstore.Store = (*Store)(nil)
