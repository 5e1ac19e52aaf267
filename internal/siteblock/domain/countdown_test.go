package domain

import (
	"testing"
	"time"
)

func TestDelayToggleState_Phase(t *testing.T) {
	t1 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state DelayToggleState
		at    time.Duration
		want  FeatureState
	}{
		{"disabled", DelayToggleState{}, 0, FeatureDisabled},
		{"disabled ignores stale timestamp", DelayToggleState{ToggleStartedAt: &t1}, 48 * time.Hour, FeatureDisabled},
		{"enabled idle", DelayToggleState{Enabled: true}, 0, FeatureEnabledIdle},
		{"counting at start", DelayToggleState{Enabled: true, ToggleStartedAt: &t1}, 0, FeatureEnabledCounting},
		{"counting at 23h59m", DelayToggleState{Enabled: true, ToggleStartedAt: &t1}, 23*time.Hour + 59*time.Minute, FeatureEnabledCounting},
		{"ready at 24h", DelayToggleState{Enabled: true, ToggleStartedAt: &t1}, 24 * time.Hour, FeatureReady},
		{"ready at 24h00m01s", DelayToggleState{Enabled: true, ToggleStartedAt: &t1}, 24*time.Hour + time.Second, FeatureReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Phase(t1.Add(tt.at), DeletionDelay); got != tt.want {
				t.Errorf("Phase = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayToggleState_TimeLeft(t *testing.T) {
	t1 := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := DelayToggleState{Enabled: true, ToggleStartedAt: &t1}

	if got := s.TimeLeft(t1.Add(23*time.Hour), DeletionDelay); got != time.Hour {
		t.Errorf("TimeLeft = %v, want 1h", got)
	}
	if got := s.TimeLeft(t1.Add(30*time.Hour), DeletionDelay); got != 0 {
		t.Errorf("TimeLeft after expiry = %v, want 0", got)
	}
	if got := (DelayToggleState{Enabled: true}).TimeLeft(t1, DeletionDelay); got != 0 {
		t.Errorf("TimeLeft without countdown = %v, want 0", got)
	}
}

func TestFeatureState_String(t *testing.T) {
	want := map[FeatureState]string{
		FeatureDisabled:        "disabled",
		FeatureEnabledIdle:     "enabled",
		FeatureEnabledCounting: "counting",
		FeatureReady:           "ready",
		FeatureState(42):       "FeatureState(42)",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), w)
		}
	}
	if FeatureDisabled.Enabled() || !FeatureReady.Enabled() {
		t.Errorf("Enabled() mismatch")
	}
}

func TestCeilHoursAndMinutes(t *testing.T) {
	if got := CeilHours(23*time.Hour + time.Second); got != 24 {
		t.Errorf("CeilHours = %d, want 24", got)
	}
	if got := CeilHours(time.Hour); got != 1 {
		t.Errorf("CeilHours(1h) = %d, want 1", got)
	}
	if got := CeilHours(-time.Minute); got != 0 {
		t.Errorf("CeilHours(negative) = %d, want 0", got)
	}
	if got := CeilMinutes(61 * time.Second); got != 2 {
		t.Errorf("CeilMinutes = %d, want 2", got)
	}
}
