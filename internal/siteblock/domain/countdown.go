package domain

import (
	"fmt"
	"time"
)

const (
	// GracePeriod is how long after creation an entry can always be removed immediately.
	GracePeriod = 5 * time.Minute
	// DeletionDelay is the wait before a scheduled removal, or a disable request, takes effect.
	DeletionDelay = 24 * time.Hour
)

// FeatureState is the derived state of the deletion-delay feature.
type FeatureState uint8

const (
	// FeatureDisabled: delay off, removal is always immediate.
	FeatureDisabled FeatureState = iota
	// FeatureEnabledIdle: delay on, no disable countdown running.
	FeatureEnabledIdle
	// FeatureEnabledCounting: delay on, disable countdown running.
	FeatureEnabledCounting
	// FeatureReady: countdown elapsed, disablement awaits confirmation.
	FeatureReady
)

func (s FeatureState) String() string {
	switch s {
	case FeatureDisabled:
		return "disabled"
	case FeatureEnabledIdle:
		return "enabled"
	case FeatureEnabledCounting:
		return "counting"
	case FeatureReady:
		return "ready"
	default:
		return fmt.Sprintf("FeatureState(%d)", s)
	}
}

// Enabled reports whether the delay feature is in force in this state.
func (s FeatureState) Enabled() bool { return s != FeatureDisabled }

// DelayToggleState is the persisted state of the deletion-delay feature.
// ToggleStartedAt is only meaningful while Enabled is true.
type DelayToggleState struct {
	Enabled         bool
	ToggleStartedAt *time.Time
}

// Counting reports whether a disable countdown has been started.
func (s DelayToggleState) Counting() bool {
	return s.Enabled && s.ToggleStartedAt != nil
}

// Phase derives the feature state at now. The countdown is evaluated lazily
// from the stored start time; nothing ticks in the background.
func (s DelayToggleState) Phase(now time.Time, wait time.Duration) FeatureState {
	switch {
	case !s.Enabled:
		return FeatureDisabled
	case s.ToggleStartedAt == nil:
		return FeatureEnabledIdle
	case now.Sub(*s.ToggleStartedAt) >= wait:
		return FeatureReady
	default:
		return FeatureEnabledCounting
	}
}

// TimeLeft returns the remaining disable countdown at now, never negative.
func (s DelayToggleState) TimeLeft(now time.Time, wait time.Duration) time.Duration {
	if !s.Counting() {
		return 0
	}
	return Remaining(*s.ToggleStartedAt, now, wait)
}

// Remaining returns wait minus the time elapsed since start, clamped at zero.
func Remaining(start, now time.Time, wait time.Duration) time.Duration {
	left := wait - now.Sub(start)
	if left < 0 {
		return 0
	}
	return left
}

// CeilHours rounds d up to whole hours, as countdowns are displayed.
func CeilHours(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Hour - 1) / time.Hour)
}

// CeilMinutes rounds d up to whole minutes.
func CeilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
