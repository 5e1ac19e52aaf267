package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

var t0 = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

// setup points the CLI at a fresh store and a mock clock.
func setup(t *testing.T) *clock.MockClock {
	t.Helper()
	t.Setenv("SITEBLOCK_STORE_PATH", filepath.Join(t.TempDir(), "siteblock.db"))
	clk := &clock.MockClock{CurrentTime: t0}
	orig := now
	now = clk
	t.Cleanup(func() {
		now = orig
		current = nil
	})
	return clk
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	apexFlag, hostsFlag, confirmFlag = false, false, false
	continueFlag, previewURLFlag = "", "https://example.com/"
	yesFlag, nowFlag, jsonOutput, verbose = false, false, false, false
	formatFlag = "yaml"

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestAddAndList(t *testing.T) {
	clk := setup(t)

	out := mustRun(t, "add", "Example.COM")
	assert.Contains(t, out, "Blocked example.com (hostname)")
	mustRun(t, "block-url", "https://news.example.org/politics")
	mustRun(t, "block-host", "--apex", "https://www.bbc.co.uk/news")

	clk.Advance(2 * time.Minute)
	out = mustRun(t, "list")
	assert.Contains(t, out, "example.com")
	assert.Contains(t, out, "https://news.example.org/politics")
	assert.Contains(t, out, "bbc.co.uk")
	assert.Contains(t, out, "removable for 3m")

	_, err := run(t, "add", "EXAMPLE.com.")
	assert.True(t, errors.Is(err, domain.ErrAlreadyBlocked))
	assert.Contains(t, mustRun(t, "remove", "EXAMPLE.com"), "Removed example.com")
}

func TestAdd_Rejections(t *testing.T) {
	setup(t)
	mustRun(t, "add", "example.com")

	_, err := run(t, "add", "example.com")
	assert.True(t, errors.Is(err, domain.ErrAlreadyBlocked))

	_, err = run(t, "add", "  ")
	assert.True(t, errors.Is(err, domain.ErrEmptyIdentifier))

	// The default redirect target cannot be blocked.
	_, err = run(t, "add", "google.com")
	assert.True(t, errors.Is(err, domain.ErrRedirectTarget))

	_, err = run(t, "block-url", "example.net")
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	setup(t)
	mustRun(t, "add", "dup.example")

	plain := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(plain, []byte("# distractions\nreddit.com\ndup.example\nhttps://x.com/home\nreddit.com\n"), 0o600))
	out := mustRun(t, "import", plain)
	assert.Contains(t, out, "Imported 2 of 3 sites")
	assert.Contains(t, out, "skipped dup.example")

	hosts := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(hosts, []byte("0.0.0.0 ads.example\n127.0.0.1 localhost\n"), 0o600))
	out = mustRun(t, "import", "--hosts", hosts)
	assert.Contains(t, out, "Imported 1 of 1 sites")
}

func TestRemove_DelayFlow(t *testing.T) {
	clk := setup(t)
	mustRun(t, "add", "example.com")
	mustRun(t, "add", "quick.example")

	// Delay off: immediate.
	out := mustRun(t, "remove", "quick.example")
	assert.Contains(t, out, "Removed quick.example")

	mustRun(t, "delay", "enable", "--yes")
	clk.Advance(10 * time.Minute)

	out = mustRun(t, "remove", "example.com")
	assert.Contains(t, out, "ended 5 minutes ago")
	assert.Contains(t, out, "--confirm")

	out = mustRun(t, "remove", "--confirm", "example.com")
	assert.Contains(t, out, "will be removed in 24 hours")

	clk.Advance(20 * time.Hour)
	out = mustRun(t, "remove", "example.com")
	assert.Contains(t, out, "4 hours left")

	out = mustRun(t, "pending")
	assert.Contains(t, out, "example.com")

	clk.Advance(4 * time.Hour)
	// The due removal is finished when the session opens.
	out = mustRun(t, "remove", "example.com")
	assert.Contains(t, out, "example.com is not blocked")
}

func TestPendingCancel(t *testing.T) {
	clk := setup(t)
	mustRun(t, "add", "example.com")
	mustRun(t, "delay", "enable", "--yes")
	clk.Advance(time.Hour)
	mustRun(t, "remove", "--confirm", "example.com")

	_, err := run(t, "pending", "cancel", "--now", "example.com")
	assert.True(t, errors.Is(err, domain.ErrDebugModeRequired))

	assert.Contains(t, mustRun(t, "debug", "on"), "Debug mode: on")
	out := mustRun(t, "pending", "cancel", "--now", "example.com")
	assert.Contains(t, out, "cancelled")

	_, err = run(t, "pending", "example.com")
	assert.True(t, errors.Is(err, domain.ErrNoPendingCountdown))
	assert.Contains(t, mustRun(t, "list"), "blocked")
}

func TestDelayToggle(t *testing.T) {
	clk := setup(t)

	assert.Contains(t, mustRun(t, "delay"), "Deletion delay: off")
	out := mustRun(t, "delay", "enable")
	assert.Contains(t, out, "Run again with --yes")
	assert.Contains(t, mustRun(t, "delay"), "off")

	mustRun(t, "delay", "enable", "--yes")
	_, err := run(t, "delay", "enable", "--yes")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	out = mustRun(t, "delay", "disable", "--yes")
	assert.Contains(t, out, "can be turned off in 24h")

	clk.Advance(3 * time.Hour)
	out = mustRun(t, "delay", "disable", "--yes")
	assert.Contains(t, out, "You must wait 21 more hours")
	assert.Contains(t, mustRun(t, "delay"), "in 21h")

	out = mustRun(t, "delay", "relock")
	assert.Contains(t, out, "in 24h")

	out = mustRun(t, "delay", "cancel", "--yes")
	assert.Contains(t, out, "Deletion delay: on")

	mustRun(t, "delay", "disable", "--yes")
	clk.Advance(24 * time.Hour)
	out = mustRun(t, "delay", "disable", "--yes")
	assert.Contains(t, out, "Deletion delay: off")
}

func TestAction(t *testing.T) {
	setup(t)

	assert.Contains(t, mustRun(t, "action"), "redirect to https://google.com")
	assert.Contains(t, mustRun(t, "action", "redirect", "https://example.org/focus"), "https://example.org/focus")
	assert.Contains(t, mustRun(t, "action", "close"), "close their tab")

	out := mustRun(t, "action", "warning", "stern", "--continue", "https://example.org/")
	assert.Contains(t, out, `"Stern"`)
	assert.Contains(t, out, "https://example.org/")

	_, err := run(t, "action", "warning", "nope")
	assert.True(t, errors.Is(err, domain.ErrUnknownTemplate))
	_, err = run(t, "action", "redirect", "javascript:alert(1)")
	assert.Error(t, err)
}

func TestTemplatesAndPreview(t *testing.T) {
	out := mustRun(t, "templates")
	assert.Contains(t, out, "minimal")
	assert.Contains(t, out, "christian_renewal")

	out = mustRun(t, "preview", "minimal", "--url", "https://blocked.example/")
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "blocked.example")

	_, err := run(t, "preview", "nope")
	assert.True(t, errors.Is(err, domain.ErrUnknownTemplate))
}

func TestStatusAndVersion(t *testing.T) {
	setup(t)
	mustRun(t, "add", "example.com")
	mustRun(t, "add", "https://example.org/page")

	out := mustRun(t, "status")
	assert.Contains(t, out, "Blocked: 2 (1 hostnames, 1 URLs)")
	assert.Contains(t, out, "Action: redirect")

	assert.Contains(t, mustRun(t, "version", "--json"), `"version"`)
}

func TestApplyAndExport(t *testing.T) {
	setup(t)
	mustRun(t, "add", "already.example")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
sites:
  - reddit.com
  - already.example
action:
  type: warning
  template: gaming
deletion_delay: true
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"sites": ["https://x.com/home"]}`), 0o600))

	out := mustRun(t, "apply", dir)
	assert.Contains(t, out, "added 1 of 2 sites")
	assert.Contains(t, out, "skipped already.example")
	assert.Contains(t, out, "added 1 of 1 sites")
	assert.Contains(t, out, "deletion delay enabled")
	assert.Contains(t, out, "warning")
	assert.Contains(t, mustRun(t, "delay"), "Deletion delay: on")

	out = mustRun(t, "export")
	assert.Contains(t, out, "reddit.com")
	assert.Contains(t, out, "https://x.com/home")
	assert.Contains(t, out, "gaming")

	out = mustRun(t, "export", "--format", "json")
	assert.Contains(t, out, `"deletion_delay":true`)

	_, err := run(t, "export", "--format", "xml")
	assert.Error(t, err)
}

func TestUserError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), domain.ErrAlreadyBlocked)
	assert.Equal(t, domain.ErrAlreadyBlocked, userError(wrapped))

	other := errors.New("disk full")
	assert.Equal(t, other, userError(other))
}
