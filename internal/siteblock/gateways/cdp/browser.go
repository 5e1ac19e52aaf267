// Package cdp enforces the block list inside a Chrome instance over the
// DevTools protocol: main-frame navigations are paused with the Fetch
// domain, decided, and answered before any blocked content loads.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wirepair/gcd"
	"github.com/wirepair/gcd/gcdapi"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/gateways/messaging"
)

var ErrUnknownTab = errors.New("unknown tab")

var startupFlags = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-popup-blocking",
}

// Handler receives every paused main-frame navigation and must resolve it.
type Handler func(ctx context.Context, nav *Navigation)

// Options configures a Browser.
type Options struct {
	Host    string
	Port    string
	Launch  bool
	Path    string
	Profile string
	// DiscoverInterval is how often new tabs are looked for.
	DiscoverInterval time.Duration
	Logger           log.Logger
}

// Browser supervises one Chrome instance and every page tab in it.
type Browser struct {
	g        *gcd.Gcd
	opts     Options
	logger   log.Logger
	tempDir  string
	launched bool

	// newTab is b.g.NewTab; tests replace it.
	newTab func() (*gcd.ChromeTarget, error)

	mu    sync.Mutex
	known map[string]struct{}
	tabs  map[string]*tab
}

type tab struct {
	target *gcd.ChromeTarget
	conn   conn

	mu      sync.Mutex
	current *Navigation
}

// swap makes nav the tab's live navigation and ends the previous one.
func (t *tab) swap(nav *Navigation) {
	t.mu.Lock()
	prev := t.current
	t.current = nav
	t.mu.Unlock()
	if prev != nil {
		prev.end()
	}
}

// Open launches Chrome or attaches to a running instance.
func Open(opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.DiscoverInterval <= 0 {
		opts.DiscoverInterval = time.Second
	}
	b := &Browser{
		g:      gcd.NewChromeDebugger(),
		opts:   opts,
		logger: opts.Logger,
		known:  make(map[string]struct{}),
		tabs:   make(map[string]*tab),
	}
	b.newTab = b.g.NewTab
	if opts.Launch {
		profile := opts.Profile
		if profile == "" {
			dir, err := os.MkdirTemp("", "siteblock-profile-*")
			if err != nil {
				return nil, fmt.Errorf("create profile dir: %w", err)
			}
			profile, b.tempDir = dir, dir
		}
		b.g.AddFlags(startupFlags)
		b.g.SetTerminationHandler(func(reason string) {
			b.logger.Warn(map[string]any{"reason": reason}, "browser process exited")
		})
		if err := b.g.StartProcess(opts.Path, profile, opts.Port); err != nil {
			b.cleanup()
			return nil, fmt.Errorf("start browser: %w", err)
		}
		b.launched = true
	} else if err := b.g.ConnectToInstance(opts.Host, opts.Port); err != nil {
		return nil, fmt.Errorf("connect to browser at %s:%s: %w", opts.Host, opts.Port, err)
	}
	b.logger.Info(map[string]any{"host": opts.Host, "port": opts.Port, "launched": opts.Launch}, "browser connected")
	return b, nil
}

// Run attaches to every page tab, present and future, and passes their
// navigations to h until ctx is done.
func (b *Browser) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(b.opts.DiscoverInterval)
	defer ticker.Stop()
	for {
		if err := b.discover(ctx, h); err != nil {
			b.logger.Warn(map[string]any{"error": err}, "tab discovery failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Browser) discover(ctx context.Context, h Handler) error {
	b.mu.Lock()
	known := make(map[string]struct{}, len(b.known))
	for id := range b.known {
		known[id] = struct{}{}
	}
	b.mu.Unlock()

	targets, err := b.g.GetNewTargets(known)
	if err != nil {
		return err
	}
	for _, target := range targets {
		id := target.Target.Id
		if !b.claim(id) || target.Target.Type != "page" {
			continue
		}
		if err := b.attach(ctx, target, h); err != nil {
			b.logger.Warn(map[string]any{"tab": id, "error": err}, "attach to tab failed")
		}
	}
	return nil
}

// claim records id as known and reports whether it was new. A tab opened
// by OpenURL is already claimed by the time discovery can list it.
func (b *Browser) claim(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.known[id]; ok {
		return false
	}
	b.known[id] = struct{}{}
	return true
}

// openTab creates a tab and claims it under b.mu, so a concurrent discover
// that sees the new target blocks until the claim is in place.
func (b *Browser) openTab() (*gcd.ChromeTarget, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target, err := b.newTab()
	if err != nil {
		return nil, err
	}
	b.known[target.Target.Id] = struct{}{}
	return target, nil
}

// attach turns on request interception for document loads in target.
func (b *Browser) attach(ctx context.Context, target *gcd.ChromeTarget, h Handler) error {
	id := target.Target.Id
	t := &tab{target: target, conn: targetConn{t: target}}

	target.Subscribe("Fetch.requestPaused", func(_ *gcd.ChromeTarget, payload []byte) {
		b.onPaused(ctx, t, payload, h)
	})
	target.Subscribe("Inspector.detached", func(*gcd.ChromeTarget, []byte) {
		b.forget(id)
	})
	target.Subscribe("Inspector.targetCrashed", func(*gcd.ChromeTarget, []byte) {
		b.forget(id)
	})

	_, err := target.Fetch.EnableWithParams(&gcdapi.FetchEnableParams{
		Patterns: []*gcdapi.FetchRequestPattern{
			{UrlPattern: "*", ResourceType: "Document", RequestStage: "Request"},
		},
	})
	if err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}

	b.mu.Lock()
	b.tabs[id] = t
	b.mu.Unlock()
	b.logger.Debug(map[string]any{"tab": id, "url": target.Target.Url}, "tab attached")
	return nil
}

func (b *Browser) onPaused(ctx context.Context, t *tab, payload []byte, h Handler) {
	ev := &gcdapi.FetchRequestPausedEvent{}
	if err := json.Unmarshal(payload, ev); err != nil {
		b.logger.Error(map[string]any{"error": err}, "undecodable Fetch.requestPaused event")
		return
	}
	p := ev.Params
	url := ""
	if p.Request != nil {
		url = p.Request.Url
	}
	nav := newNavigation(t.conn, t.target.Target.Id, p.RequestId, url)
	if !isMainFrame(p.FrameId, t.target.Target.Id, p.ResourceType) {
		if err := nav.Allow(ctx); err != nil {
			b.logger.Debug(map[string]any{"error": err}, "release subframe request failed")
		}
		return
	}
	t.swap(nav)
	h(ctx, nav)
}

// isMainFrame reports whether a paused request loads the top-level document
// of the tab. The main frame of a page target shares the target's id.
func isMainFrame(frameID, targetID, resourceType string) bool {
	return resourceType == "Document" && frameID == targetID
}

func (b *Browser) forget(id string) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	delete(b.tabs, id)
	b.mu.Unlock()
	if ok {
		t.swap(nil)
		b.logger.Debug(map[string]any{"tab": id}, "tab detached")
	}
}

// CloseTab is the background handler for closeTab requests.
func (b *Browser) CloseTab(_ context.Context, req messaging.Request) messaging.Response {
	b.mu.Lock()
	t, ok := b.tabs[req.TabID]
	b.mu.Unlock()
	if !ok {
		return messaging.Response{Error: fmt.Sprintf("%s: %s", ErrUnknownTab, req.TabID)}
	}
	if err := b.g.CloseTab(t.target); err != nil {
		return messaging.Response{Error: err.Error()}
	}
	b.forget(req.TabID)
	return messaging.Response{Success: true}
}

// OpenURL opens a new tab, attaches it with h and then loads url, so the
// first load is enforced like any other.
func (b *Browser) OpenURL(ctx context.Context, url string, h Handler) error {
	target, err := b.openTab()
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	if err := b.attach(ctx, target, h); err != nil {
		return err
	}
	_, _, errText, err := target.Page.NavigateWithParams(&gcdapi.PageNavigateParams{Url: url, TransitionType: "typed"})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if errText != "" {
		return fmt.Errorf("navigate to %s: %s", url, errText)
	}
	return nil
}

// Tabs returns the ids of attached tabs.
func (b *Browser) Tabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	return ids
}

// Close ends every navigation and stops a launched browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.forget(id)
	}
	var err error
	if b.launched {
		err = b.g.ExitProcess()
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.tempDir != "" {
		_ = os.RemoveAll(b.tempDir)
		b.tempDir = ""
	}
}
