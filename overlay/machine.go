// Package overlay implements the interactive rectangle selection used for
// cropped screenshots.
//
// The Machine is driven by pointer and key events delivered serially by the
// host page. It draws through an injected Surface and reports either a
// normalised rectangle in viewport CSS pixels or a cancellation.
//
//	Idle -> Armed -> Dragging -> Resolved
//	          \________\_______-> Cancelled
package overlay

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/webclip/clip"
)

// State of the selection.
type State int

const (
	Idle State = iota
	Armed
	Dragging
	Resolved
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Resolved:
		return "resolved"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Resolved || s == Cancelled }

// SettleDelay is how long a resolved selection waits before being reported,
// so the overlay is gone from the page before the viewport is captured.
// 10ms proved too short in practice.
const SettleDelay = 100 * time.Millisecond

// EscapeKey is the key value that cancels a selection.
const EscapeKey = "Escape"

// ErrNotIdle is returned by Arm on a machine that already started.
var ErrNotIdle = errors.New("overlay: selection already started")

// Surface is the page-side rendering of the overlay: a dimming layer, an
// instruction banner holding keyboard focus, and the selection box.
type Surface interface {
	// Show inserts the overlay elements and starts event delivery.
	Show(ctx context.Context) error
	// Draw moves the selection box.
	Draw(r clip.Rect)
	// Teardown removes every inserted element and listener. It is called
	// exactly once per machine.
	Teardown()
}

// Result is the outcome of a selection.
type Result struct {
	Rect      clip.Rect
	Cancelled bool
}

type point struct{ x, y float64 }

// Machine is one rectangle selection. It is single-use.
type Machine struct {
	mu       sync.Mutex
	state    State
	anchor   point
	rect     clip.Rect
	surface  Surface
	settle   time.Duration
	after    func(time.Duration, func())
	done     chan Result
	tornDown bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithSettleDelay overrides SettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Machine) { m.settle = d }
}

// WithAfter replaces time.AfterFunc for scheduling the settled report.
func WithAfter(after func(time.Duration, func())) Option {
	return func(m *Machine) { m.after = after }
}

// New creates an idle machine drawing on s.
func New(s Surface, opts ...Option) *Machine {
	m := &Machine{
		surface: s,
		settle:  SettleDelay,
		after:   func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		done:    make(chan Result, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Arm shows the overlay and starts listening.
func (m *Machine) Arm(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.state = Armed
	m.mu.Unlock()

	if err := m.surface.Show(ctx); err != nil {
		m.mu.Lock()
		m.finishLocked(Result{Cancelled: true})
		m.mu.Unlock()
		return err
	}
	return nil
}

// PointerDown anchors the selection at (x, y).
func (m *Machine) PointerDown(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Armed && m.state != Dragging {
		return
	}
	m.state = Dragging
	m.anchor = point{x, y}
	m.rect = clip.Rect{X: x, Y: y}
	m.surface.Draw(m.rect)
}

// PointerMove stretches the selection to (x, y).
func (m *Machine) PointerMove(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Dragging {
		return
	}
	m.rect = stretch(m.anchor, point{x, y}, 1)
	m.surface.Draw(m.rect)
}

// PointerUp finalises the selection at (x, y). A release with no movement
// on either axis is an accidental click and cancels. Once torn down the
// machine ignores it.
func (m *Machine) PointerUp(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Dragging {
		return
	}
	raw := stretch(m.anchor, point{x, y}, 0)
	if raw.Empty() {
		m.finishLocked(Result{Cancelled: true})
		return
	}
	m.rect = raw
	m.state = Resolved
	m.teardownLocked()

	res := Result{Rect: raw}
	m.after(m.settle, func() { m.done <- res })
}

// Key handles a key press; Escape cancels before resolution.
func (m *Machine) Key(key string) {
	if key != EscapeKey {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Armed && m.state != Dragging {
		return
	}
	m.finishLocked(Result{Cancelled: true})
}

// Cancel aborts the selection from outside the page, e.g. when the page
// context is torn down.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return
	}
	m.finishLocked(Result{Cancelled: true})
}

// Wait blocks until the selection resolves, is cancelled, or ctx ends.
// A ctx end cancels the selection.
func (m *Machine) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-m.done:
		return r, nil
	case <-ctx.Done():
		m.Cancel()
		return Result{Cancelled: true}, ctx.Err()
	}
}

func (m *Machine) finishLocked(r Result) {
	if r.Cancelled {
		m.state = Cancelled
	}
	m.teardownLocked()
	select {
	case m.done <- r:
	default:
	}
}

func (m *Machine) teardownLocked() {
	if m.tornDown {
		return
	}
	m.tornDown = true
	m.surface.Teardown()
}

// stretch builds the rectangle spanned by the anchor and p: origin is the
// per-axis minimum, size the absolute difference, at least floor.
func stretch(anchor, p point, floor float64) clip.Rect {
	return clip.Rect{
		X:      math.Min(anchor.x, p.x),
		Y:      math.Min(anchor.y, p.y),
		Width:  math.Max(floor, math.Abs(p.x-anchor.x)),
		Height: math.Max(floor, math.Abs(p.y-anchor.y)),
	}
}
