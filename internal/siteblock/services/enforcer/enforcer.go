// Package enforcer applies the configured block action to a navigation the
// matcher has blocked.
package enforcer

import (
	"context"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/gateways/messaging"
	"github.com/haukened/siteblock/internal/siteblock/warning"
)

const (
	defaultContainInterval = 100 * time.Millisecond
	defaultCloseTimeout    = 2 * time.Second
)

// Page is one navigation held before the page loads. Exactly one of Allow,
// Replace, ShowWarning or Abort resolves it.
type Page interface {
	TabID() string
	URL() string
	Host() string
	// Allow lets the navigation proceed untouched.
	Allow(ctx context.Context) error
	// Replace answers the navigation with a redirect to url, leaving no
	// history entry for the blocked page.
	Replace(ctx context.Context, url string) error
	// ShowWarning answers the navigation with doc in place of the site.
	ShowWarning(ctx context.Context, doc []byte) error
	// Abort cancels the navigation.
	Abort(ctx context.Context) error
	// CloseSelf closes the tab from the page itself.
	CloseSelf(ctx context.Context) error
	// Evaluate runs script in the loaded page and returns its string result.
	Evaluate(ctx context.Context, script string) (string, error)
	// Done is closed when this page view ends (navigation away or tab closed).
	Done() <-chan struct{}
}

// Decider answers block decisions.
type Decider interface {
	Decide(rawURL, host string) domain.BlockDecision
}

// ActionSource supplies the configured block action.
type ActionSource interface {
	Action() (domain.BlockAction, error)
}

// Messenger delivers requests to the background context.
type Messenger interface {
	Post(req messaging.Request) (<-chan messaging.Response, error)
}

// Options tunes an Enforcer.
type Options struct {
	// ContainInterval is the warning containment cadence.
	ContainInterval time.Duration
	// CloseTimeout bounds how long a close acknowledgement is awaited in the
	// background before falling back to CloseSelf.
	CloseTimeout time.Duration
	Logger       log.Logger
}

// Enforcer decides and enforces navigations.
type Enforcer struct {
	decider   Decider
	actions   ActionSource
	messenger Messenger
	interval  time.Duration
	timeout   time.Duration
	logger    log.Logger
}

// New returns an Enforcer. Zero options take their defaults.
func New(decider Decider, actions ActionSource, messenger Messenger, opts Options) *Enforcer {
	if opts.ContainInterval <= 0 {
		opts.ContainInterval = defaultContainInterval
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Enforcer{
		decider:   decider,
		actions:   actions,
		messenger: messenger,
		interval:  opts.ContainInterval,
		timeout:   opts.CloseTimeout,
		logger:    opts.Logger,
	}
}

// Enforce decides page and resolves it: allowed navigations proceed,
// blocked ones get the configured action.
func (e *Enforcer) Enforce(ctx context.Context, page Page) (domain.BlockDecision, error) {
	dec := e.decider.Decide(page.URL(), page.Host())
	if !dec.Blocked {
		return dec, page.Allow(ctx)
	}
	action, err := e.actions.Action()
	if err != nil {
		e.logger.Warn(map[string]any{"error": err}, "block action unavailable, using default")
		action = domain.DefaultAction()
	}
	e.logger.Info(map[string]any{
		"url":    page.URL(),
		"entry":  dec.MatchedEntry,
		"kind":   dec.Kind.String(),
		"action": string(action.Type()),
		"tab":    page.TabID(),
	}, "navigation blocked")
	return dec, e.Execute(ctx, action, page)
}

// Execute applies action to page.
func (e *Enforcer) Execute(ctx context.Context, action domain.BlockAction, page Page) error {
	switch a := action.(type) {
	case domain.RedirectAction:
		return page.Replace(ctx, a.Target())
	case domain.CloseAction:
		return e.close(ctx, page)
	case domain.WarningAction:
		return e.warn(ctx, a, page)
	default:
		return e.Execute(ctx, domain.DefaultAction(), page)
	}
}

// close stops the navigation and asks the background context to close the
// tab without waiting for the answer. When the request cannot be delivered,
// or is answered with a failure, the page closes itself.
func (e *Enforcer) close(ctx context.Context, page Page) error {
	if err := page.Abort(ctx); err != nil {
		e.logger.Debug(map[string]any{"tab": page.TabID(), "error": err}, "abort before close failed")
	}
	reply, err := e.messenger.Post(messaging.Request{Action: messaging.ActionCloseTab, TabID: page.TabID()})
	if err != nil {
		e.logger.Warn(map[string]any{"tab": page.TabID(), "error": err}, "close request not delivered, closing from page")
		return page.CloseSelf(ctx)
	}
	go e.awaitClose(ctx, page, reply)
	return nil
}

func (e *Enforcer) awaitClose(ctx context.Context, page Page, reply <-chan messaging.Response) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-reply:
		if ok && resp.Success {
			return
		}
		e.logger.Warn(map[string]any{"tab": page.TabID(), "error": resp.Error}, "background close failed, closing from page")
	case <-page.Done():
		return
	case <-ctx.Done():
		return
	case <-timer.C:
		e.logger.Warn(map[string]any{"tab": page.TabID()}, "close not acknowledged, closing from page")
	}
	if err := page.CloseSelf(ctx); err != nil {
		e.logger.Debug(map[string]any{"tab": page.TabID(), "error": err}, "close from page failed")
	}
}

// warn replaces the page with the interstitial, then keeps it in place for
// the page's lifetime. Containment is best-effort, not a security boundary.
func (e *Enforcer) warn(ctx context.Context, a domain.WarningAction, page Page) error {
	doc, err := warning.RenderBytes(warning.NewPage(a.Template(), page.URL(), a.ContinueTarget()))
	if err != nil {
		return err
	}
	if err := page.ShowWarning(ctx, doc); err != nil {
		return err
	}
	script, err := warning.ContainScript(doc)
	if err != nil {
		return err
	}
	go e.contain(ctx, page, script)
	return nil
}

func (e *Enforcer) contain(ctx context.Context, page Page, script string) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-page.Done():
			return
		case <-ticker.C:
		}
		res, err := page.Evaluate(ctx, script)
		if err != nil {
			e.logger.Debug(map[string]any{"tab": page.TabID(), "error": err}, "containment check failed")
			continue
		}
		if res == "restored" {
			e.logger.Info(map[string]any{"tab": page.TabID()}, "warning overlay restored")
		}
	}
}
