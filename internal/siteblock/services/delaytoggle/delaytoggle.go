// Package delaytoggle turns the deletion delay feature on and off. Turning
// it off takes a 24 hour countdown and a final confirmation.
package delaytoggle

import (
	"errors"
	"fmt"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// Store persists the feature state.
type Store interface {
	DelayState() (domain.DelayToggleState, error)
	UpdateDelayState(fn func(domain.DelayToggleState) (domain.DelayToggleState, error)) (domain.DelayToggleState, error)
}

// Status is the feature state as seen at one instant.
type Status struct {
	State     domain.FeatureState
	StartedAt *time.Time
	TimeLeft  time.Duration
}

// HoursLeft is the disable countdown rounded up to whole hours.
func (s Status) HoursLeft() int { return domain.CeilHours(s.TimeLeft) }

// Options configures a Service.
type Options struct {
	Clock  clock.Clock
	Logger log.Logger
	Delay  time.Duration
}

// Service applies feature transitions. Each transition checks the current
// state inside the store transaction that writes the next one.
type Service struct {
	store  Store
	clock  clock.Clock
	logger log.Logger
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
	if opts.Delay <= 0 {
		opts.Delay = domain.DeletionDelay
	}
	return &Service{store: store, clock: opts.Clock, logger: opts.Logger, delay: opts.Delay}
}

// Status derives the feature state now.
func (s *Service) Status() (Status, error) {
	st, err := s.store.DelayState()
	if err != nil {
		return Status{}, fmt.Errorf("delay status: %w", err)
	}
	return s.status(st, s.clock.Now()), nil
}

// Enable turns the delay on with no countdown. Disabled only.
func (s *Service) Enable() (Status, error) {
	return s.transition("enable", func(time.Time) domain.DelayToggleState {
		return domain.DelayToggleState{Enabled: true}
	}, domain.FeatureDisabled)
}

// StartDisable starts the disable countdown. The feature stays enabled.
func (s *Service) StartDisable() (Status, error) {
	return s.transition("start disable", func(now time.Time) domain.DelayToggleState {
		return domain.DelayToggleState{Enabled: true, ToggleStartedAt: &now}
	}, domain.FeatureEnabledIdle)
}

// CancelDisable clears the countdown and keeps the delay enabled.
func (s *Service) CancelDisable() (Status, error) {
	return s.transition("cancel disable", func(time.Time) domain.DelayToggleState {
		return domain.DelayToggleState{Enabled: true}
	}, domain.FeatureEnabledCounting, domain.FeatureReady)
}

// Relock restarts the countdown from now.
func (s *Service) Relock() (Status, error) {
	return s.transition("relock", func(now time.Time) domain.DelayToggleState {
		return domain.DelayToggleState{Enabled: true, ToggleStartedAt: &now}
	}, domain.FeatureEnabledCounting, domain.FeatureReady)
}

// Disable turns the delay off once the countdown has elapsed.
func (s *Service) Disable() (Status, error) {
	return s.transition("disable", func(time.Time) domain.DelayToggleState {
		return domain.DelayToggleState{}
	}, domain.FeatureReady)
}

type step func(now time.Time) domain.DelayToggleState

func (s *Service) transition(name string, next step, from ...domain.FeatureState) (Status, error) {
	now := s.clock.Now()
	var phase domain.FeatureState
	st, err := s.store.UpdateDelayState(func(cur domain.DelayToggleState) (domain.DelayToggleState, error) {
		phase = cur.Phase(now, s.delay)
		for _, ok := range from {
			if phase == ok {
				return next(now), nil
			}
		}
		return cur, domain.ErrInvalidTransition
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return Status{}, fmt.Errorf("%s from %s: %w", name, phase, err)
	}
	if err != nil {
		return Status{}, fmt.Errorf("%s: %w", name, err)
	}
	out := s.status(st, now)
	s.logger.Info(map[string]any{"transition": name, "from": phase.String(), "to": out.State.String()}, "deletion delay updated")
	return out, nil
}

func (s *Service) status(st domain.DelayToggleState, now time.Time) Status {
	out := Status{State: st.Phase(now, s.delay), TimeLeft: st.TimeLeft(now, s.delay)}
	if st.Counting() {
		t := *st.ToggleStartedAt
		out.StartedAt = &t
	}
	return out
}
