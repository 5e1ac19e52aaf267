// Package kvstoretest holds the behaviour every kvstore.Store must share.
package kvstoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

// Run exercises a fresh store from newStore against the kvstore contract.
func Run(t *testing.T, newStore func(t *testing.T) kvstore.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		var v []string
		found, err := s.Get("site.block.list", &v)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("site.block.list", []string{"a.example", "b.example"}))

		var v []string
		found, err := s.Get("site.block.list", &v)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []string{"a.example", "b.example"}, v)

		require.NoError(t, s.Delete("site.block.list"))
		found, err = s.Get("site.block.list", &v)
		require.NoError(t, err)
		assert.False(t, found)

		// deleting again is fine
		require.NoError(t, s.Delete("site.block.list"))
	})

	t.Run("UpdateIsAtomic", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("a", 1))

		boom := errors.New("boom")
		err := s.Update(func(tx kvstore.Tx) error {
			if err := tx.Set("a", 2); err != nil {
				return err
			}
			if err := tx.Set("b", 3); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var a int
		_, err = s.Get("a", &a)
		require.NoError(t, err)
		assert.Equal(t, 1, a)
		found, err := s.Get("b", &a)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("UpdateSeesOwnWrites", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(func(tx kvstore.Tx) error {
			if err := tx.Set("k", "v1"); err != nil {
				return err
			}
			var got string
			found, err := tx.Get("k", &got)
			if err != nil {
				return err
			}
			assert.True(t, found)
			assert.Equal(t, "v1", got)
			if err := tx.Delete("k"); err != nil {
				return err
			}
			found, err = tx.Get("k", &got)
			assert.False(t, found)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("ViewRejectsWrites", func(t *testing.T) {
		s := newStore(t)
		err := s.View(func(tx kvstore.Tx) error { return tx.Set("k", true) })
		assert.ErrorIs(t, err, kvstore.ErrReadOnly)
		err = s.View(func(tx kvstore.Tx) error { return tx.Delete("k") })
		assert.ErrorIs(t, err, kvstore.ErrReadOnly)
	})

	t.Run("RevisionAdvancesOncePerCommit", func(t *testing.T) {
		s := newStore(t)
		r0, err := s.Revision()
		require.NoError(t, err)

		require.NoError(t, s.Update(func(tx kvstore.Tx) error {
			if err := tx.Set("a", 1); err != nil {
				return err
			}
			return tx.Set("b", 2)
		}))
		r1, err := s.Revision()
		require.NoError(t, err)
		assert.Equal(t, r0+1, r1)

		// read-only and empty updates leave it alone
		require.NoError(t, s.Update(func(kvstore.Tx) error { return nil }))
		r2, err := s.Revision()
		require.NoError(t, err)
		assert.Equal(t, r1, r2)
	})

	t.Run("WatchFiltersKeys", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := s.Watch(ctx, "watched")
		require.NoError(t, s.Set("other", 1))
		require.NoError(t, s.Set("watched", 2))

		select {
		case c := <-ch:
			assert.Equal(t, "watched", c.Key)
			assert.NotZero(t, c.Revision)
		case <-time.After(5 * time.Second):
			t.Fatalf("no change delivered")
		}

		cancel()
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 5*time.Second, 10*time.Millisecond, "watch channel not closed after cancel")
	})

	t.Run("CloseEndsWatchesAndOperations", func(t *testing.T) {
		s := newStore(t)
		ch := s.Watch(context.Background())
		require.NoError(t, s.Close())

		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatalf("watch channel not closed by Close")
		}
		assert.ErrorIs(t, s.Set("k", 1), kvstore.ErrClosed)
		_, err := s.Get("k", new(int))
		assert.ErrorIs(t, err, kvstore.ErrClosed)
	})
}
