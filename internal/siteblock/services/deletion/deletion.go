// Package deletion decides what happens when a site is removed from the block
// list while the deletion delay may be in force.
package deletion

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore"
)

// Store is the slice of the block repository the state machine needs.
type Store interface {
	Entry(identifier string) (domain.BlockEntry, bool, error)
	Remove(identifier string) (bool, error)
	DelayState() (domain.DelayToggleState, error)
	DebugMode() (bool, error)
	Pending() (map[string]time.Time, error)
	PendingFor(identifier string) (time.Time, bool, error)
	SchedulePending(identifier string, start time.Time) (time.Time, error)
	ClearPending(identifier string) (bool, error)
	FinalizeElapsed(identifier string, now time.Time, wait time.Duration) (bool, error)
	FinalizeAllElapsed(now time.Time, wait time.Duration) ([]string, error)
	Watch(ctx context.Context, keys ...string) <-chan kvstore.Change
}

// Reason says why a removal took effect.
type Reason string

const (
	ReasonNotBlocked Reason = "not-blocked"
	ReasonDisabled   Reason = "delay-disabled"
	ReasonGrace      Reason = "grace-period"
	ReasonFinalized  Reason = "countdown-elapsed"
)

// Outcome is the result of a removal request: Removed, Waiting or
// NeedsSchedule.
type Outcome interface {
	isOutcome()
}

// Removed means the entry is gone.
type Removed struct {
	Identifier string
	Reason     Reason
}

// Waiting means a countdown is already running for the entry.
type Waiting struct {
	Identifier   string
	StartedAt    time.Time
	TimeLeft     time.Duration
	CanCancelNow bool
}

// NeedsSchedule means the entry can only be removed after a countdown the
// caller has to confirm.
type NeedsSchedule struct {
	Identifier    string
	GraceMissedBy time.Duration
}

func (Removed) isOutcome()       {}
func (Waiting) isOutcome()       {}
func (NeedsSchedule) isOutcome() {}

// HoursLeft is the countdown rounded up to whole hours.
func (w Waiting) HoursLeft() int { return domain.CeilHours(w.TimeLeft) }

// Options configures a Service. Zero durations take the package defaults.
type Options struct {
	Clock  clock.Clock
	Logger log.Logger
	Grace  time.Duration
	Delay  time.Duration
}

// Service runs the per-site deletion delay state machine. All state lives
// in the store; every call re-derives it from stored timestamps.
type Service struct {
	store  Store
	clock  clock.Clock
	logger log.Logger
	grace  time.Duration
	delay  time.Duration
}

// New returns a Service over store.
func New(store Store, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Grace <= 0 {
		opts.Grace = domain.GracePeriod
	}
	if opts.Delay <= 0 {
		opts.Delay = domain.DeletionDelay
	}
	return &Service{store: store, clock: opts.Clock, logger: opts.Logger, grace: opts.Grace, delay: opts.Delay}
}

// Delay returns the countdown length.
func (s *Service) Delay() time.Duration { return s.delay }

// RequestRemoval removes identifier when the rules allow it right away, and
// otherwise reports what the caller has to do next.
func (s *Service) RequestRemoval(identifier string) (Outcome, error) {
	entry, ok, err := s.store.Entry(identifier)
	if err != nil {
		return nil, fmt.Errorf("request removal of %q: %w", identifier, err)
	}
	if !ok {
		return Removed{Identifier: identifier, Reason: ReasonNotBlocked}, nil
	}

	state, err := s.store.DelayState()
	if err != nil {
		return nil, fmt.Errorf("request removal of %q: %w", identifier, err)
	}
	now := s.clock.Now()
	if !state.Enabled {
		return s.remove(identifier, ReasonDisabled)
	}
	if entry.WithinGrace(now, s.grace) {
		return s.remove(identifier, ReasonGrace)
	}

	start, pending, err := s.store.PendingFor(identifier)
	if err != nil {
		return nil, fmt.Errorf("request removal of %q: %w", identifier, err)
	}
	if pending {
		if now.Sub(start) >= s.delay {
			done, err := s.store.FinalizeElapsed(identifier, now, s.delay)
			if err != nil {
				return nil, err
			}
			if done {
				return Removed{Identifier: identifier, Reason: ReasonFinalized}, nil
			}
		} else {
			return s.waiting(identifier, start, now)
		}
	}

	var missed time.Duration
	if entry.HasCreatedAt() {
		missed = now.Sub(entry.CreatedAt) - s.grace
	}
	return NeedsSchedule{Identifier: identifier, GraceMissedBy: missed}, nil
}

// ConfirmSchedule starts the removal countdown for identifier now. A running
// countdown is kept as it is.
func (s *Service) ConfirmSchedule(identifier string) (Waiting, error) {
	now := s.clock.Now()
	start, err := s.store.SchedulePending(identifier, now)
	if err != nil {
		return Waiting{}, err
	}
	out, err := s.waiting(identifier, start, now)
	if err != nil {
		return Waiting{}, err
	}
	return out.(Waiting), nil
}

// CancelWaiting stops the countdown for identifier. The entry stays blocked.
// Cancelling a countdown that is not running is a no-op.
func (s *Service) CancelWaiting(identifier string) (bool, error) {
	return s.store.ClearPending(identifier)
}

// CancelImmediately is CancelWaiting behind the debug switch.
func (s *Service) CancelImmediately(identifier string) (bool, error) {
	debug, err := s.store.DebugMode()
	if err != nil {
		return false, fmt.Errorf("cancel %q: %w", identifier, err)
	}
	if !debug {
		return false, fmt.Errorf("cancel %q: %w", identifier, domain.ErrDebugModeRequired)
	}
	return s.store.ClearPending(identifier)
}

// Countdown reports the running countdown for identifier.
func (s *Service) Countdown(identifier string) (Waiting, error) {
	start, ok, err := s.store.PendingFor(identifier)
	if err != nil {
		return Waiting{}, err
	}
	if !ok {
		return Waiting{}, fmt.Errorf("%q: %w", identifier, domain.ErrNoPendingCountdown)
	}
	out, err := s.waiting(identifier, start, s.clock.Now())
	if err != nil {
		return Waiting{}, err
	}
	return out.(Waiting), nil
}

// Status lists every running countdown, including elapsed ones the sweep has
// not reached yet.
func (s *Service) Status() ([]Waiting, error) {
	pending, err := s.store.Pending()
	if err != nil {
		return nil, err
	}
	debug, err := s.store.DebugMode()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]Waiting, 0, len(pending))
	for id, start := range pending {
		out = append(out, Waiting{
			Identifier:   id,
			StartedAt:    start,
			TimeLeft:     domain.Remaining(start, now, s.delay),
			CanCancelNow: debug,
		})
	}
	slices.SortFunc(out, func(a, b Waiting) int { return strings.Compare(a.Identifier, b.Identifier) })
	return out, nil
}

// Finalize removes identifier if its countdown has elapsed. Missing entries
// and running countdowns are left alone.
func (s *Service) Finalize(identifier string) (bool, error) {
	return s.store.FinalizeElapsed(identifier, s.clock.Now(), s.delay)
}

// SweepExpired finalizes every elapsed countdown and returns the removed
// identifiers.
func (s *Service) SweepExpired() ([]string, error) {
	return s.store.FinalizeAllElapsed(s.clock.Now(), s.delay)
}

func (s *Service) remove(identifier string, reason Reason) (Outcome, error) {
	if _, err := s.store.Remove(identifier); err != nil {
		return nil, err
	}
	s.logger.Debug(map[string]any{"identifier": identifier, "reason": string(reason)}, "removed without countdown")
	return Removed{Identifier: identifier, Reason: reason}, nil
}

func (s *Service) waiting(identifier string, start, now time.Time) (Outcome, error) {
	debug, err := s.store.DebugMode()
	if err != nil {
		return nil, err
	}
	return Waiting{
		Identifier:   identifier,
		StartedAt:    start,
		TimeLeft:     domain.Remaining(start, now, s.delay),
		CanCancelNow: debug,
	}, nil
}
