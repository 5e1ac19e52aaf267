package kvstore

import (
	"context"
	"sync"
)

// watchBuffer bounds how many undelivered changes a slow watcher may hold.
// Further changes are dropped for that watcher; see Change.
const watchBuffer = 16

// Hub fans store changes out to in-process watchers. Store implementations
// publish after a successful commit.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

type subscriber struct {
	keys map[string]struct{}
	ch   chan Change
	seen map[string]uint64
}

func (s *subscriber) wants(key string) bool {
	if len(s.keys) == 0 {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a watcher for keys until ctx is done. The returned
// channel is closed after ctx is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, keys ...string) <-chan Change {
	sub := &subscriber{
		keys: make(map[string]struct{}, len(keys)),
		ch:   make(chan Change, watchBuffer),
		seen: make(map[string]uint64),
	}
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}

	h.mu.Lock()
	if h.subs == nil {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}()
	return sub.ch
}

// Publish delivers changes to interested watchers. A change whose revision
// is not newer than the last one delivered for that key is skipped, so the
// same write observed twice (locally and by polling) is reported once.
func (h *Hub) Publish(changes ...Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		for _, c := range changes {
			if !sub.wants(c.Key) || c.Revision <= sub.seen[c.Key] {
				continue
			}
			sub.seen[c.Key] = c.Revision
			select {
			case sub.ch <- c:
			default:
			}
		}
	}
}

// Close closes every watcher channel. Later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.subs = nil
}
