package blocklist

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

// Options configures a Repository.
type Options struct {
	Clock  clock.Clock
	Logger log.Logger
}

// Repository gives typed access to the block store keys. Absent keys read as
// their defaults: an empty list, the default action, disabled flags. Changes
// spanning several keys run in a single store transaction.
type Repository struct {
	store  kvstore.Store
	clock  clock.Clock
	logger log.Logger
}

// New wraps store. Missing options fall back to the real clock and a no-op logger.
func New(store kvstore.Store, opts Options) *Repository {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Repository{store: store, clock: opts.Clock, logger: opts.Logger}
}

// Snapshot is a consistent read of every key.
type Snapshot struct {
	Entries []domain.BlockEntry
	Pending map[string]time.Time
	Action  domain.BlockAction
	Delay   domain.DelayToggleState
	Debug   bool
}

// ImportResult reports the outcome of AddMany.
type ImportResult struct {
	Added   []domain.BlockEntry
	Skipped []Skipped
}

// Skipped is an identifier AddMany did not add, with the reason.
type Skipped struct {
	Identifier string
	Err        error
}

// Snapshot reads every key in one transaction.
func (r *Repository) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		if snap.Entries, err = readEntries(tx); err != nil {
			return err
		}
		if snap.Pending, err = readPending(tx); err != nil {
			return err
		}
		if snap.Action, err = readAction(tx); err != nil {
			return err
		}
		if snap.Delay, err = readDelay(tx); err != nil {
			return err
		}
		snap.Debug, err = readBool(tx, domain.KeyDebugMode)
		return err
	})
	return snap, err
}

// Identifiers returns the block list in insertion order.
func (r *Repository) Identifiers() ([]string, error) {
	var list []string
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		list, err = readList(tx)
		return err
	})
	return list, err
}

// Entries returns the block list with creation times.
func (r *Repository) Entries() ([]domain.BlockEntry, error) {
	var entries []domain.BlockEntry
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		entries, err = readEntries(tx)
		return err
	})
	return entries, err
}

// Entry looks up a single identifier.
func (r *Repository) Entry(identifier string) (domain.BlockEntry, bool, error) {
	entries, err := r.Entries()
	if err != nil {
		return domain.BlockEntry{}, false, err
	}
	for _, e := range entries {
		if e.Identifier == identifier {
			return e, true, nil
		}
	}
	return domain.BlockEntry{}, false, nil
}

// Add validates identifier against the current list and action, then appends
// it with the current time as its creation time.
func (r *Repository) Add(identifier string) (domain.BlockEntry, error) {
	entry, err := domain.NewBlockEntry(identifier, r.clock.Now())
	if err != nil {
		return domain.BlockEntry{}, fmt.Errorf("add %q: %w", identifier, err)
	}
	err = r.store.Update(func(tx kvstore.Tx) error {
		list, times, action, err := readForAdd(tx)
		if err != nil {
			return err
		}
		if err := checkAddable(entry.Identifier, list, action); err != nil {
			return err
		}
		list = append(list, entry.Identifier)
		times[entry.Identifier] = entry.CreatedAt.UnixMilli()
		return writeListAndTimes(tx, list, times)
	})
	if err != nil {
		return domain.BlockEntry{}, fmt.Errorf("add %q: %w", entry.Identifier, err)
	}
	r.logger.Info(map[string]any{"identifier": entry.Identifier, "kind": entry.Kind().String()}, "site blocked")
	return entry, nil
}

// AddMany adds every acceptable identifier in one transaction, preserving
// order. Rejected identifiers are reported, not returned as an error.
func (r *Repository) AddMany(identifiers []string) (ImportResult, error) {
	var res ImportResult
	now := r.clock.Now()
	err := r.store.Update(func(tx kvstore.Tx) error {
		res = ImportResult{}
		list, times, action, err := readForAdd(tx)
		if err != nil {
			return err
		}
		for _, raw := range identifiers {
			entry, err := domain.NewBlockEntry(raw, now)
			if err == nil {
				err = checkAddable(entry.Identifier, list, action)
			}
			if err != nil {
				res.Skipped = append(res.Skipped, Skipped{Identifier: raw, Err: err})
				continue
			}
			list = append(list, entry.Identifier)
			times[entry.Identifier] = now.UnixMilli()
			res.Added = append(res.Added, entry)
		}
		if len(res.Added) == 0 {
			return nil
		}
		return writeListAndTimes(tx, list, times)
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: %w", err)
	}
	r.logger.Info(map[string]any{"added": len(res.Added), "skipped": len(res.Skipped)}, "block list imported")
	return res, nil
}

// Remove deletes identifier, its creation time and any pending removal in one
// transaction. It reports whether the identifier was present.
func (r *Repository) Remove(identifier string) (bool, error) {
	var removed bool
	err := r.store.Update(func(tx kvstore.Tx) error {
		var err error
		removed, err = removeInTx(tx, identifier)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove %q: %w", identifier, err)
	}
	if removed {
		r.logger.Info(map[string]any{"identifier": identifier}, "site unblocked")
	}
	return removed, nil
}

// FinalizeElapsed removes identifier only if its pending removal started at
// least wait before now. The check and the removal share one transaction, so
// a countdown cancelled in the meantime is never finalized.
func (r *Repository) FinalizeElapsed(identifier string, now time.Time, wait time.Duration) (bool, error) {
	var done bool
	err := r.store.Update(func(tx kvstore.Tx) error {
		pending, err := readTimes(tx, domain.KeyPendingDeletions)
		if err != nil {
			return err
		}
		start, ok := pending[identifier]
		if !ok || now.Sub(time.UnixMilli(start)) < wait {
			return nil
		}
		if _, err := removeInTx(tx, identifier); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize %q: %w", identifier, err)
	}
	if done {
		r.logger.Info(map[string]any{"identifier": identifier}, "scheduled removal finalized")
	}
	return done, nil
}

// FinalizeAllElapsed removes every entry whose pending removal is at least
// wait old, and drops pending records whose entry no longer exists. It
// returns the finalized identifiers.
func (r *Repository) FinalizeAllElapsed(now time.Time, wait time.Duration) ([]string, error) {
	var finalized []string
	err := r.store.Update(func(tx kvstore.Tx) error {
		finalized = nil
		list, err := readList(tx)
		if err != nil {
			return err
		}
		times, err := readTimes(tx, domain.KeyTimestamps)
		if err != nil {
			return err
		}
		pending, err := readTimes(tx, domain.KeyPendingDeletions)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		changed := false
		for id, start := range pending {
			switch {
			case !slices.Contains(list, id):
				delete(pending, id)
				changed = true
			case now.Sub(time.UnixMilli(start)) >= wait:
				list = slices.DeleteFunc(list, func(s string) bool { return s == id })
				delete(times, id)
				delete(pending, id)
				finalized = append(finalized, id)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		if err := writeListAndTimes(tx, list, times); err != nil {
			return err
		}
		return tx.Set(domain.KeyPendingDeletions, pending)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize elapsed: %w", err)
	}
	slices.Sort(finalized)
	if len(finalized) > 0 {
		r.logger.Info(map[string]any{"identifiers": finalized}, "scheduled removals finalized")
	}
	return finalized, nil
}

// Pending returns every pending removal keyed by identifier.
func (r *Repository) Pending() (map[string]time.Time, error) {
	var pending map[string]time.Time
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		pending, err = readPending(tx)
		return err
	})
	return pending, err
}

// PendingFor returns when the removal countdown for identifier started.
func (r *Repository) PendingFor(identifier string) (time.Time, bool, error) {
	pending, err := r.Pending()
	if err != nil {
		return time.Time{}, false, err
	}
	start, ok := pending[identifier]
	return start, ok, nil
}

// SchedulePending starts a removal countdown for identifier at start. An
// existing countdown is kept; the effective start time is returned.
func (r *Repository) SchedulePending(identifier string, start time.Time) (time.Time, error) {
	effective := start
	err := r.store.Update(func(tx kvstore.Tx) error {
		list, err := readList(tx)
		if err != nil {
			return err
		}
		if !slices.Contains(list, identifier) {
			return domain.ErrNotBlocked
		}
		pending, err := readTimes(tx, domain.KeyPendingDeletions)
		if err != nil {
			return err
		}
		if ms, ok := pending[identifier]; ok {
			effective = time.UnixMilli(ms).UTC()
			return nil
		}
		pending[identifier] = start.UnixMilli()
		return tx.Set(domain.KeyPendingDeletions, pending)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %q: %w", identifier, err)
	}
	r.logger.Info(map[string]any{"identifier": identifier, "started": effective}, "removal scheduled")
	return effective, nil
}

// ClearPending drops the pending removal for identifier. The entry itself is
// kept. It reports whether a countdown was running.
func (r *Repository) ClearPending(identifier string) (bool, error) {
	var cleared bool
	err := r.store.Update(func(tx kvstore.Tx) error {
		pending, err := readTimes(tx, domain.KeyPendingDeletions)
		if err != nil {
			return err
		}
		if _, ok := pending[identifier]; !ok {
			return nil
		}
		delete(pending, identifier)
		cleared = true
		return tx.Set(domain.KeyPendingDeletions, pending)
	})
	if err != nil {
		return false, fmt.Errorf("cancel %q: %w", identifier, err)
	}
	if cleared {
		r.logger.Info(map[string]any{"identifier": identifier}, "scheduled removal cancelled")
	}
	return cleared, nil
}

// Action returns the configured block action, or the default one.
func (r *Repository) Action() (domain.BlockAction, error) {
	var a domain.BlockAction
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		a, err = readAction(tx)
		return err
	})
	return a, err
}

// SetAction stores the block action.
func (r *Repository) SetAction(a domain.BlockAction) error {
	stored := domain.StoreAction(a)
	if err := r.store.Set(domain.KeyBlockAction, stored); err != nil {
		return fmt.Errorf("set action: %w", err)
	}
	r.logger.Info(map[string]any{"type": stored.Type}, "block action updated")
	return nil
}

// DelayState returns the persisted deletion-delay feature state.
func (r *Repository) DelayState() (domain.DelayToggleState, error) {
	var s domain.DelayToggleState
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		s, err = readDelay(tx)
		return err
	})
	return s, err
}

// UpdateDelayState applies fn to the current feature state and stores the
// result atomically. An error from fn leaves the state untouched.
func (r *Repository) UpdateDelayState(fn func(domain.DelayToggleState) (domain.DelayToggleState, error)) (domain.DelayToggleState, error) {
	var next domain.DelayToggleState
	err := r.store.Update(func(tx kvstore.Tx) error {
		cur, err := readDelay(tx)
		if err != nil {
			return err
		}
		next, err = fn(cur)
		if err != nil {
			return err
		}
		if err := tx.Set(domain.KeyDeletionDelay, next.Enabled); err != nil {
			return err
		}
		var ms *int64
		if next.ToggleStartedAt != nil {
			v := next.ToggleStartedAt.UnixMilli()
			ms = &v
		}
		return tx.Set(domain.KeyDelayToggleTime, ms)
	})
	if err != nil {
		return domain.DelayToggleState{}, err
	}
	return next, nil
}

// DebugMode reports whether the immediate-cancel escape hatch is unlocked.
func (r *Repository) DebugMode() (bool, error) {
	var on bool
	err := r.store.View(func(tx kvstore.Tx) error {
		var err error
		on, err = readBool(tx, domain.KeyDebugMode)
		return err
	})
	return on, err
}

// SetDebugMode stores the debug flag.
func (r *Repository) SetDebugMode(on bool) error {
	if err := r.store.Set(domain.KeyDebugMode, on); err != nil {
		return fmt.Errorf("set debug mode: %w", err)
	}
	r.logger.Info(map[string]any{"debug": on}, "debug mode updated")
	return nil
}

// Stats summarises the persisted block list.
func (r *Repository) Stats() (Stats, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Entries: len(snap.Entries), Pending: len(snap.Pending)}
	for _, e := range snap.Entries {
		if e.Kind() == domain.IdentifierURL {
			st.URLs++
		} else {
			st.Hostnames++
		}
	}
	st.Revision, err = r.store.Revision()
	return st, err
}

// Watch forwards store change notifications for keys.
func (r *Repository) Watch(ctx context.Context, keys ...string) <-chan kvstore.Change {
	return r.store.Watch(ctx, keys...)
}

// checkAddable rejects duplicates and the active redirect destination.
func checkAddable(identifier string, list []string, action domain.BlockAction) error {
	if slices.Contains(list, identifier) {
		return domain.ErrAlreadyBlocked
	}
	if ra, ok := action.(domain.RedirectAction); ok {
		target := ra.Target()
		if identifier == target || utils.NormalizeHostname(identifier) == utils.NormalizeHostname(target) {
			return domain.ErrRedirectTarget
		}
	}
	return nil
}

func removeInTx(tx kvstore.Tx, identifier string) (bool, error) {
	list, err := readList(tx)
	if err != nil {
		return false, err
	}
	times, err := readTimes(tx, domain.KeyTimestamps)
	if err != nil {
		return false, err
	}
	pending, err := readTimes(tx, domain.KeyPendingDeletions)
	if err != nil {
		return false, err
	}
	_, hadTime := times[identifier]
	_, hadPending := pending[identifier]
	idx := slices.Index(list, identifier)
	if idx < 0 && !hadTime && !hadPending {
		return false, nil
	}
	if idx >= 0 {
		list = slices.Delete(list, idx, idx+1)
	}
	delete(times, identifier)
	delete(pending, identifier)
	if err := writeListAndTimes(tx, list, times); err != nil {
		return false, err
	}
	if err := tx.Set(domain.KeyPendingDeletions, pending); err != nil {
		return false, err
	}
	return idx >= 0, nil
}

func readForAdd(tx kvstore.Tx) ([]string, map[string]int64, domain.BlockAction, error) {
	list, err := readList(tx)
	if err != nil {
		return nil, nil, nil, err
	}
	times, err := readTimes(tx, domain.KeyTimestamps)
	if err != nil {
		return nil, nil, nil, err
	}
	action, err := readAction(tx)
	if err != nil {
		return nil, nil, nil, err
	}
	return list, times, action, nil
}

func writeListAndTimes(tx kvstore.Tx, list []string, times map[string]int64) error {
	if list == nil {
		list = []string{}
	}
	if err := tx.Set(domain.KeyBlockList, list); err != nil {
		return err
	}
	return tx.Set(domain.KeyTimestamps, times)
}

func readList(tx kvstore.Tx) ([]string, error) {
	var list []string
	if _, err := tx.Get(domain.KeyBlockList, &list); err != nil {
		return nil, err
	}
	// Set semantics; stores written by older versions may hold duplicates.
	out := list[:0]
	seen := make(map[string]struct{}, len(list))
	for _, id := range list {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func readTimes(tx kvstore.Tx, key string) (map[string]int64, error) {
	times := map[string]int64{}
	if _, err := tx.Get(key, &times); err != nil {
		return nil, err
	}
	if times == nil {
		times = map[string]int64{}
	}
	return times, nil
}

func readEntries(tx kvstore.Tx) ([]domain.BlockEntry, error) {
	list, err := readList(tx)
	if err != nil {
		return nil, err
	}
	times, err := readTimes(tx, domain.KeyTimestamps)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.BlockEntry, 0, len(list))
	for _, id := range list {
		e := domain.BlockEntry{Identifier: id}
		if ms, ok := times[id]; ok {
			e.CreatedAt = time.UnixMilli(ms).UTC()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readPending(tx kvstore.Tx) (map[string]time.Time, error) {
	raw, err := readTimes(tx, domain.KeyPendingDeletions)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(raw))
	for id, ms := range raw {
		out[id] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}

func readAction(tx kvstore.Tx) (domain.BlockAction, error) {
	var stored domain.StoredAction
	found, err := tx.Get(domain.KeyBlockAction, &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.DefaultAction(), nil
	}
	return stored.Action(), nil
}

func readDelay(tx kvstore.Tx) (domain.DelayToggleState, error) {
	enabled, err := readBool(tx, domain.KeyDeletionDelay)
	if err != nil {
		return domain.DelayToggleState{}, err
	}
	var ms *int64
	if _, err := tx.Get(domain.KeyDelayToggleTime, &ms); err != nil {
		return domain.DelayToggleState{}, err
	}
	s := domain.DelayToggleState{Enabled: enabled}
	if ms != nil {
		t := time.UnixMilli(*ms).UTC()
		s.ToggleStartedAt = &t
	}
	return s, nil
}

func readBool(tx kvstore.Tx, key string) (bool, error) {
	var v bool
	_, err := tx.Get(key, &v)
	return v, err
}
