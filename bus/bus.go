// Package bus connects webclip's isolated contexts. Contexts share no
// memory: they exchange envelopes either through a deliver-and-await-reply
// call to a tab's page context, or through runtime broadcasts that every
// other context may observe.
//
// Delivery order across contexts is not guaranteed. A broadcast reaches
// each listener on its own goroutine.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/webclip/envelope"
)

var (
	// ErrNoReceiver means no page context is attached to the tab.
	ErrNoReceiver = errors.New("bus: no receiver attached")
	// ErrContextGone means the page context detached before replying.
	ErrContextGone = errors.New("bus: receiving context went away")
	// ErrClosed means the bus has been shut down.
	ErrClosed = errors.New("bus: closed")
)

// Responder answers envelopes sent to a tab. It returns the reply envelope;
// a returned error is reported to the caller as an error reply.
type Responder func(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error)

// Listener observes runtime broadcasts. It must not block for long.
type Listener func(env envelope.Envelope)

type attachment struct {
	respond Responder
	gone    chan struct{}
	once    sync.Once
}

func (a *attachment) detach() {
	a.once.Do(func() { close(a.gone) })
}

type listener struct {
	origin string
	fn     Listener
}

// Bus is the in-process message fabric.
type Bus struct {
	mu        sync.RWMutex
	tabs      map[int]*attachment
	listeners map[uint64]listener
	nextID    uint64
	closed    bool
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		tabs:      make(map[int]*attachment),
		listeners: make(map[uint64]listener),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Attach registers the page context of tabID. A later Attach for the same
// tab replaces the earlier one, which is treated as gone. The returned
// detach function is idempotent.
func (b *Bus) Attach(tabID int, r Responder) (detach func()) {
	att := &attachment{respond: r, gone: make(chan struct{})}

	b.mu.Lock()
	if prev, ok := b.tabs[tabID]; ok {
		prev.detach()
	}
	b.tabs[tabID] = att
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if cur, ok := b.tabs[tabID]; ok && cur == att {
			delete(b.tabs, tabID)
		}
		b.mu.Unlock()
		att.detach()
	}
}

// Attached reports whether a page context is attached to tabID.
func (b *Bus) Attached(tabID int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tabs[tabID]
	return ok
}

// SendToTab delivers env to the page context of tabID and waits for its
// single reply. There is no built-in timeout: callers bound the wait with
// ctx. An error reply from the page is returned as *envelope.RemoteError.
func (b *Bus) SendToTab(ctx context.Context, tabID int, env envelope.Envelope) (envelope.Envelope, error) {
	b.mu.RLock()
	closed := b.closed
	att, ok := b.tabs[tabID]
	b.mu.RUnlock()
	if closed {
		return envelope.Envelope{}, ErrClosed
	}
	if !ok {
		return envelope.Envelope{}, fmt.Errorf("bus: tab %d: %w", tabID, ErrNoReceiver)
	}

	type result struct {
		env envelope.Envelope
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := att.respond(ctx, env)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return envelope.Envelope{}, &envelope.RemoteError{Name: env.Name, Message: r.err.Error()}
		}
		if r.env.Failed() {
			return envelope.Envelope{}, &envelope.RemoteError{Name: env.Name, Message: r.env.Error}
		}
		return r.env, nil
	case <-att.gone:
		return envelope.Envelope{}, fmt.Errorf("bus: tab %d: %w", tabID, ErrContextGone)
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

// Listen registers fn for runtime broadcasts from every origin other than
// its own. The returned remove function is idempotent.
func (b *Bus) Listen(origin string, fn Listener) (remove func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener{origin: origin, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Broadcast delivers env to every listener not registered under origin.
// It does not wait for delivery.
func (b *Bus) Broadcast(origin string, env envelope.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.origin != origin {
			targets = append(targets, l.fn)
		}
	}
	b.wg.Add(len(targets))
	b.mu.RUnlock()

	for _, fn := range targets {
		go func(fn Listener) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("bus: listener panic", "name", env.Name, "panic", r)
				}
			}()
			fn(env)
		}(fn)
	}
	return nil
}

// Close detaches every page context, drops listeners and waits for
// in-flight broadcast deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	for id, att := range b.tabs {
		att.detach()
		delete(b.tabs, id)
	}
	b.listeners = make(map[uint64]listener)
	b.mu.Unlock()
	b.wg.Wait()
}
