package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/wirepair/gcd"
	"github.com/wirepair/gcd/gcdapi"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
)

// ErrResolved is returned when a paused navigation was already answered.
var ErrResolved = errors.New("navigation already resolved")

// conn is the part of a DevTools target a navigation talks to.
type conn interface {
	fulfill(p *gcdapi.FetchFulfillRequestParams) error
	proceed(p *gcdapi.FetchContinueRequestParams) error
	fail(p *gcdapi.FetchFailRequestParams) error
	evaluate(p *gcdapi.RuntimeEvaluateParams) (*gcdapi.RuntimeRemoteObject, *gcdapi.RuntimeExceptionDetails, error)
	closePage() error
}

// targetConn drives a live gcd target.
type targetConn struct {
	t *gcd.ChromeTarget
}

func (c targetConn) fulfill(p *gcdapi.FetchFulfillRequestParams) error {
	_, err := c.t.Fetch.FulfillRequestWithParams(p)
	return err
}

func (c targetConn) proceed(p *gcdapi.FetchContinueRequestParams) error {
	_, err := c.t.Fetch.ContinueRequestWithParams(p)
	return err
}

func (c targetConn) fail(p *gcdapi.FetchFailRequestParams) error {
	_, err := c.t.Fetch.FailRequestWithParams(p)
	return err
}

func (c targetConn) evaluate(p *gcdapi.RuntimeEvaluateParams) (*gcdapi.RuntimeRemoteObject, *gcdapi.RuntimeExceptionDetails, error) {
	return c.t.Runtime.EvaluateWithParams(p)
}

func (c targetConn) closePage() error {
	_, err := c.t.Page.Close()
	return err
}

// Navigation is one main-frame document request paused by the Fetch domain.
// It lives until the tab navigates again or closes.
type Navigation struct {
	conn      conn
	tabID     string
	requestID string
	url       string
	host      string

	mu       sync.Mutex
	resolved bool

	doneOnce sync.Once
	done     chan struct{}
}

func newNavigation(c conn, tabID, requestID, url string) *Navigation {
	return &Navigation{
		conn:      c,
		tabID:     tabID,
		requestID: requestID,
		url:       url,
		host:      utils.HostnameOf(url),
		done:      make(chan struct{}),
	}
}

func (n *Navigation) TabID() string { return n.tabID }
func (n *Navigation) URL() string   { return n.url }
func (n *Navigation) Host() string  { return n.host }

// Done is closed once the navigation is superseded or its tab is gone.
func (n *Navigation) Done() <-chan struct{} { return n.done }

func (n *Navigation) end() {
	n.doneOnce.Do(func() { close(n.done) })
}

// resolve runs fn unless the request was already answered.
func (n *Navigation) resolve(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved {
		return ErrResolved
	}
	n.resolved = true
	return fn()
}

// Allow releases the request unchanged.
func (n *Navigation) Allow(context.Context) error {
	return n.resolve(func() error {
		return n.conn.proceed(&gcdapi.FetchContinueRequestParams{RequestId: n.requestID})
	})
}

// Replace answers with a 302 so the blocked URL never enters history.
func (n *Navigation) Replace(_ context.Context, url string) error {
	return n.resolve(func() error {
		return n.conn.fulfill(&gcdapi.FetchFulfillRequestParams{
			RequestId:    n.requestID,
			ResponseCode: 302,
			ResponseHeaders: []*gcdapi.FetchHeaderEntry{
				{Name: "Location", Value: url},
				{Name: "Cache-Control", Value: "no-store"},
			},
		})
	})
}

// ShowWarning answers with doc as the page.
func (n *Navigation) ShowWarning(_ context.Context, doc []byte) error {
	return n.resolve(func() error {
		return n.conn.fulfill(&gcdapi.FetchFulfillRequestParams{
			RequestId:    n.requestID,
			ResponseCode: 200,
			ResponseHeaders: []*gcdapi.FetchHeaderEntry{
				{Name: "Content-Type", Value: "text/html; charset=utf-8"},
				{Name: "Cache-Control", Value: "no-store"},
			},
			Body: base64.StdEncoding.EncodeToString(doc),
		})
	})
}

// Abort fails the request as blocked by the client.
func (n *Navigation) Abort(context.Context) error {
	return n.resolve(func() error {
		return n.conn.fail(&gcdapi.FetchFailRequestParams{RequestId: n.requestID, ErrorReason: "BlockedByClient"})
	})
}

// CloseSelf closes the tab through the page domain.
func (n *Navigation) CloseSelf(context.Context) error {
	// A still-paused request would keep the tab loading.
	_ = n.Abort(context.Background())
	err := n.conn.closePage()
	if err == nil {
		n.end()
	}
	return err
}

// Evaluate runs script in the tab and returns its string value.
func (n *Navigation) Evaluate(_ context.Context, script string) (string, error) {
	obj, exc, err := n.conn.evaluate(&gcdapi.RuntimeEvaluateParams{
		Expression:    script,
		ObjectGroup:   "siteblock",
		Silent:        true,
		ReturnByValue: true,
		Timeout:       1000,
	})
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", fmt.Errorf("script exception: %s", exc.Text)
	}
	if obj == nil {
		return "", nil
	}
	s, _ := obj.Value.(string)
	return s, nil
}
