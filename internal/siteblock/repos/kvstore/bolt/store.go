package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

var (
	bucketValues = []byte("values")
	bucketMeta   = []byte("meta")

	metaRevision = []byte("revision")
	// per-key revisions live under this prefix in the meta bucket
	metaKeyRevPrefix = "rev/"
)

const (
	defaultTimeout = time.Second
	defaultPoll    = time.Second
)

// Options configures a bolt-backed store.
type Options struct {
	// Path of the database file; created when missing.
	Path string
	// Timeout bounds how long a transaction waits for the file lock held by
	// another process.
	Timeout time.Duration
	// PollInterval is how often Watch checks for writes made by other processes.
	PollInterval time.Duration
	Logger       log.Logger
}

// Store implements kvstore.Store on a bbolt file.
//
// bbolt holds an exclusive file lock for as long as a database is open, so the
// file is opened for the duration of each transaction only. This lets the
// daemon and the CLI share one file. Transactions within a process are
// serialized by mu.
type Store struct {
	mu     sync.Mutex
	opts   Options
	closed bool
	hub    *kvstore.Hub
	logger log.Logger
}

// New creates the database file and buckets if needed.
func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("bolt: path is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Store{opts: opts, hub: kvstore.NewHub(), logger: logger}
	err := s.withDB(false, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketValues); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: init %s: %w", opts.Path, err)
	}
	return s, nil
}

func (s *Store) withDB(readOnly bool, fn func(*bbolt.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrClosed
	}
	db, err := bbolt.Open(s.opts.Path, 0o600, &bbolt.Options{Timeout: s.opts.Timeout, ReadOnly: readOnly})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			s.logger.Warn(map[string]any{"path": s.opts.Path, "error": cerr}, "bolt close failed")
		}
	}()
	return fn(db)
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

// Update runs fn in a bbolt read-write transaction. Every key written bumps
// the global revision once and records it as that key's revision.
func (s *Store) Update(fn func(kvstore.Tx) error) error {
	var changes []kvstore.Change
	err := s.withDB(false, func(db *bbolt.DB) error {
		return db.Update(func(btx *bbolt.Tx) error {
			t := &txn{tx: btx, values: btx.Bucket(bucketValues), written: make(map[string]struct{})}
			if err := fn(t); err != nil {
				return err
			}
			if len(t.written) == 0 {
				return nil
			}
			meta := btx.Bucket(bucketMeta)
			rev := decodeUint(meta.Get(metaRevision)) + 1
			if err := meta.Put(metaRevision, encodeUint(rev)); err != nil {
				return err
			}
			keys := make([]string, 0, len(t.written))
			for k := range t.written {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if err := meta.Put([]byte(metaKeyRevPrefix+k), encodeUint(rev)); err != nil {
					return err
				}
				changes = append(changes, kvstore.Change{Key: k, Revision: rev})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.hub.Publish(changes...)
	return nil
}

func (s *Store) View(fn func(kvstore.Tx) error) error {
	return s.withDB(true, func(db *bbolt.DB) error {
		return db.View(func(btx *bbolt.Tx) error {
			return fn(&txn{tx: btx, values: btx.Bucket(bucketValues), readOnly: true})
		})
	})
}

// Revision returns the global write counter.
func (s *Store) Revision() (uint64, error) {
	var rev uint64
	err := s.withDB(true, func(db *bbolt.DB) error {
		return db.View(func(btx *bbolt.Tx) error {
			rev = decodeUint(btx.Bucket(bucketMeta).Get(metaRevision))
			return nil
		})
	})
	return rev, err
}

// keyRevisions reads the recorded revision of each key; unknown keys read as 0.
func (s *Store) keyRevisions(keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	err := s.withDB(true, func(db *bbolt.DB) error {
		return db.View(func(btx *bbolt.Tx) error {
			meta := btx.Bucket(bucketMeta)
			if len(keys) == 0 {
				c := meta.Cursor()
				prefix := []byte(metaKeyRevPrefix)
				for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
					out[string(k[len(prefix):])] = decodeUint(v)
				}
				return nil
			}
			for _, k := range keys {
				out[k] = decodeUint(meta.Get([]byte(metaKeyRevPrefix + k)))
			}
			return nil
		})
	})
	return out, err
}

// Watch reports changes made by this process immediately and changes made
// by other processes within PollInterval.
func (s *Store) Watch(ctx context.Context, keys ...string) <-chan kvstore.Change {
	ch := s.hub.Subscribe(ctx, keys...)
	baseline, err := s.keyRevisions(keys)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err}, "bolt watch baseline failed")
		baseline = map[string]uint64{}
	}
	go s.poll(ctx, keys, baseline)
	return ch
}

func (s *Store) poll(ctx context.Context, keys []string, last map[string]uint64) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		revs, err := s.keyRevisions(keys)
		if errors.Is(err, kvstore.ErrClosed) {
			return
		}
		if err != nil {
			s.logger.Debug(map[string]any{"error": err}, "bolt watch poll failed")
			continue
		}
		var changes []kvstore.Change
		for k, rev := range revs {
			if rev > last[k] {
				last[k] = rev
				changes = append(changes, kvstore.Change{Key: k, Revision: rev})
			}
		}
		s.hub.Publish(changes...)
	}
}

// Close stops all watchers. The file itself is not held open between transactions.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

type txn struct {
	tx       *bbolt.Tx
	values   *bbolt.Bucket
	written  map[string]struct{}
	readOnly bool
}

func (t *txn) Get(key string, v any) (bool, error) {
	raw := t.values.Get([]byte(key))
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
	if err := t.values.Put([]byte(key), raw); err != nil {
		return err
	}
	t.written[key] = struct{}{}
	return nil
}

func (t *txn) Delete(key string) error {
	if t.readOnly {
		return kvstore.ErrReadOnly
	}
	if err := t.values.Delete([]byte(key)); err != nil {
		return err
	}
	t.written[key] = struct{}{}
	return nil
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

var _ kvstore.Store = (*Store)(nil)
