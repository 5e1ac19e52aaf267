// Package messaging carries requests from the enforcement path to the
// privileged background context that owns tab lifecycles.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
)

// ActionCloseTab asks the background context to close the sender's tab.
const ActionCloseTab = "closeTab"

// ErrNoHandler is returned when no handler is registered for a request's action.
var ErrNoHandler = errors.New("messaging: no handler for action")

// ErrStopped is returned once the broker has been stopped.
var ErrStopped = errors.New("messaging: broker stopped")

// Request is a message from an enforcement context. TabID identifies the sender.
type Request struct {
	Action string `json:"action"`
	TabID  string `json:"tabId,omitempty"`
}

// Response acknowledges a Request.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Handler serves one action. It runs on the broker's worker goroutines.
type Handler func(ctx context.Context, req Request) Response

// Broker dispatches requests to handlers asynchronously. Post never blocks on
// the handler: delivery succeeds as soon as the request is queued.
type Broker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	queue    chan envelope
	stopped  bool
	logger   log.Logger
	wg       sync.WaitGroup
}

type envelope struct {
	req   Request
	reply chan Response
}

// NewBroker returns a broker with room for queueSize undelivered requests.
func NewBroker(queueSize int, logger log.Logger) *Broker {
	if queueSize <= 0 {
		queueSize = 16
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Broker{
		handlers: make(map[string]Handler),
		queue:    make(chan envelope, queueSize),
		logger:   logger,
	}
}

// Handle registers h for action, replacing any earlier handler.
func (b *Broker) Handle(action string, h Handler) {
	b.mu.Lock()
	b.handlers[action] = h
	b.mu.Unlock()
}

// Post queues req. The returned channel receives exactly one Response and is
// then closed; callers are free to ignore it. An error means the request was
// not delivered.
func (b *Broker) Post(req Request) (<-chan Response, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return nil, ErrStopped
	}
	if _, ok := b.handlers[req.Action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, req.Action)
	}
	reply := make(chan Response, 1)
	select {
	case b.queue <- envelope{req: req, reply: reply}:
		return reply, nil
	default:
		return nil, errors.New("messaging: queue full")
	}
}

// Run serves queued requests with workers goroutines until ctx is done.
// Requests still queued at that point are answered with a failure.
func (b *Broker) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-b.queue:
					if ctx.Err() != nil {
						reject(env)
						continue
					}
					b.dispatch(ctx, env)
				}
			}
		}()
	}
	<-ctx.Done()

	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.wg.Wait()
	for {
		select {
		case env := <-b.queue:
			reject(env)
		default:
			return
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, env envelope) {
	b.mu.RLock()
	h := b.handlers[env.req.Action]
	b.mu.RUnlock()

	resp := h(ctx, env.req)
	if !resp.Success {
		b.logger.Warn(map[string]any{"action": env.req.Action, "tab": env.req.TabID, "error": resp.Error}, "message handler failed")
	}
	env.reply <- resp
	close(env.reply)
}

func reject(env envelope) {
	env.reply <- Response{Success: false, Error: ErrStopped.Error()}
	close(env.reply)
}
