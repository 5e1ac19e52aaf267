package deletion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/memory"
)

var t0 = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	repo  *blocklist.Repository
	svc   *Service
	clk   *clock.MockClock
}

func newFixture(t *testing.T, delayEnabled bool) fixture {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	clk := &clock.MockClock{CurrentTime: t0}
	repo := blocklist.New(st, blocklist.Options{Clock: clk})
	if delayEnabled {
		_, err := repo.UpdateDelayState(func(domain.DelayToggleState) (domain.DelayToggleState, error) {
			return domain.DelayToggleState{Enabled: true}, nil
		})
		require.NoError(t, err)
	}
	return fixture{store: st, repo: repo, svc: New(repo, Options{Clock: clk}), clk: clk}
}

func (f fixture) add(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.repo.Add(id)
		require.NoError(t, err)
	}
}

func (f fixture) blocked(t *testing.T, id string) bool {
	t.Helper()
	_, ok, err := f.repo.Entry(id)
	require.NoError(t, err)
	return ok
}

func TestRequestRemoval_DelayDisabledRemovesImmediately(t *testing.T) {
	f := newFixture(t, false)
	f.add(t, "example.com")
	f.clk.Advance(48 * time.Hour)

	out, err := f.svc.RequestRemoval("example.com")
	require.NoError(t, err)
	assert.Equal(t, Removed{Identifier: "example.com", Reason: ReasonDisabled}, out)
	assert.False(t, f.blocked(t, "example.com"))
}

func TestRequestRemoval_GracePeriodBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		removed bool
	}{
		{"4m59s", 4*time.Minute + 59*time.Second, true},
		{"exactly 5m", 5 * time.Minute, false},
		{"5m01s", 5*time.Minute + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.add(t, "example.com")
			f.clk.Advance(tt.elapsed)

			out, err := f.svc.RequestRemoval("example.com")
			require.NoError(t, err)
			if tt.removed {
				assert.Equal(t, Removed{Identifier: "example.com", Reason: ReasonGrace}, out)
			} else {
				ns, ok := out.(NeedsSchedule)
				require.True(t, ok, "outcome %#v", out)
				assert.Equal(t, tt.elapsed-5*time.Minute, ns.GraceMissedBy)
			}
			assert.Equal(t, !tt.removed, f.blocked(t, "example.com"))
		})
	}
}

func TestRequestRemoval_NoCreationTimeNeedsSchedule(t *testing.T) {
	f := newFixture(t, true)
	// Entries from before creation times were recorded.
	require.NoError(t, f.store.Set(domain.KeyBlockList, []string{"legacy.example"}))

	out, err := f.svc.RequestRemoval("legacy.example")
	require.NoError(t, err)
	assert.Equal(t, NeedsSchedule{Identifier: "legacy.example"}, out)
}

func TestRequestRemoval_WaitingAndFinalized(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "example.com")
	f.clk.Advance(time.Hour)

	out, err := f.svc.RequestRemoval("example.com")
	require.NoError(t, err)
	require.IsType(t, NeedsSchedule{}, out)

	w, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, w.TimeLeft)
	assert.Equal(t, 24, w.HoursLeft())
	assert.False(t, w.CanCancelNow)

	f.clk.Advance(23*time.Hour + 59*time.Minute)
	out, err = f.svc.RequestRemoval("example.com")
	require.NoError(t, err)
	waiting, ok := out.(Waiting)
	require.True(t, ok, "outcome %#v", out)
	assert.Equal(t, time.Minute, waiting.TimeLeft)
	assert.Equal(t, 1, waiting.HoursLeft())
	assert.True(t, f.blocked(t, "example.com"))

	f.clk.Advance(time.Minute)
	out, err = f.svc.RequestRemoval("example.com")
	require.NoError(t, err)
	assert.Equal(t, Removed{Identifier: "example.com", Reason: ReasonFinalized}, out)
	assert.False(t, f.blocked(t, "example.com"))

	pending, err := f.repo.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequestRemoval_MissingIsNoop(t *testing.T) {
	f := newFixture(t, true)
	out, err := f.svc.RequestRemoval("nowhere.example")
	require.NoError(t, err)
	assert.Equal(t, Removed{Identifier: "nowhere.example", Reason: ReasonNotBlocked}, out)
}

func TestConfirmSchedule_KeepsRunningCountdown(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "example.com")
	f.clk.Advance(time.Hour)
	_, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)

	f.clk.Advance(3 * time.Hour)
	w, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), w.StartedAt)
	assert.Equal(t, 21*time.Hour, w.TimeLeft)
}

func TestConfirmSchedule_UnknownSite(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.ConfirmSchedule("nowhere.example")
	assert.True(t, errors.Is(err, domain.ErrNotBlocked))
}

func TestCancelWaiting(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "example.com")
	f.clk.Advance(time.Hour)
	_, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelWaiting("example.com")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.True(t, f.blocked(t, "example.com"))

	cancelled, err = f.svc.CancelWaiting("example.com")
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = f.svc.Countdown("example.com")
	assert.True(t, errors.Is(err, domain.ErrNoPendingCountdown))
}

func TestCancelImmediately_RequiresDebug(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "example.com")
	f.clk.Advance(time.Hour)
	_, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)

	_, err = f.svc.CancelImmediately("example.com")
	assert.True(t, errors.Is(err, domain.ErrDebugModeRequired))
	_, err = f.svc.Countdown("example.com")
	require.NoError(t, err)

	require.NoError(t, f.repo.SetDebugMode(true))
	w, err := f.svc.Countdown("example.com")
	require.NoError(t, err)
	assert.True(t, w.CanCancelNow)

	cancelled, err := f.svc.CancelImmediately("example.com")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.True(t, f.blocked(t, "example.com"))
}

func TestFinalize(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "example.com")
	f.clk.Advance(time.Hour)
	_, err := f.svc.ConfirmSchedule("example.com")
	require.NoError(t, err)

	done, err := f.svc.Finalize("example.com")
	require.NoError(t, err)
	assert.False(t, done)

	f.clk.Advance(24 * time.Hour)
	done, err = f.svc.Finalize("example.com")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = f.svc.Finalize("example.com")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestSweepExpiredAndStatus(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "a.example", "b.example", "c.example")
	f.clk.Advance(time.Hour)
	_, err := f.svc.ConfirmSchedule("b.example")
	require.NoError(t, err)
	f.clk.Advance(12 * time.Hour)
	_, err = f.svc.ConfirmSchedule("a.example")
	require.NoError(t, err)
	f.clk.Advance(12 * time.Hour)

	status, err := f.svc.Status()
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "a.example", status[0].Identifier)
	assert.Equal(t, 12*time.Hour, status[0].TimeLeft)
	assert.Equal(t, "b.example", status[1].Identifier)
	assert.Equal(t, time.Duration(0), status[1].TimeLeft)

	removed, err := f.svc.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.example"}, removed)

	ids, err := f.repo.Identifiers()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "c.example"}, ids)
}

func TestSweeper_SweepsOnStartAndOnChange(t *testing.T) {
	f := newFixture(t, true)
	f.add(t, "due.example", "later.example")
	_, err := f.repo.SchedulePending("due.example", t0.Add(-25*time.Hour))
	require.NoError(t, err)

	swept := make(chan []string, 4)
	w := NewSweeper(f.svc, time.Hour)
	w.OnSweep(func(removed []string) { swept <- removed })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case got := <-swept:
		assert.Equal(t, []string{"due.example"}, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("startup sweep did not run")
	}

	_, err = f.repo.SchedulePending("later.example", t0.Add(-30*time.Hour))
	require.NoError(t, err)
	select {
	case got := <-swept:
		assert.Equal(t, []string{"later.example"}, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("sweep did not follow the store change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestNewSweeper_ClampsInterval(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, DefaultSweepInterval, NewSweeper(f.svc, 0).interval)
	assert.Equal(t, DefaultSweepInterval, NewSweeper(f.svc, time.Minute).interval)
	assert.Equal(t, time.Second, NewSweeper(f.svc, time.Second).interval)
}
