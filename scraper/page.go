package scraper

import (
	"context"
	"time"

	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/overlay"
)

// Page is what a scraper may do to the page it lives in.
type Page interface {
	// URL returns location.href.
	URL(ctx context.Context) (string, error)
	// Title returns the <title> text, trimmed.
	Title(ctx context.Context) (string, error)
	// SelectionHTML returns the cloned contents of every selection range,
	// concatenated.
	SelectionHTML(ctx context.Context) (string, error)
	// DocumentHTML returns the serialised document.
	DocumentHTML(ctx context.Context) (string, error)
	// DevicePixelRatio returns window.devicePixelRatio.
	DevicePixelRatio(ctx context.Context) (float64, error)
	// Overlay prepares a selection overlay showing message. Input events
	// arrive on the returned channel once the surface is shown.
	Overlay(message string) (overlay.Surface, <-chan InputEvent)
	// ShowToast displays a transient notification. onClick receives the
	// action of a clicked link.
	ShowToast(ctx context.Context, t ToastSpec, onClick func(envelope.Envelope)) error
}

// InputEvent is one raw overlay input event.
type InputEvent struct {
	Type string  `json:"type"` // down, move, up or key
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
	Key  string  `json:"key,omitempty"`
}

// ToastLink is a clickable action inside a toast.
type ToastLink struct {
	Text   string            `json:"text"`
	Color  string            `json:"color,omitempty"`
	Action envelope.Envelope `json:"-"`
}

// ToastSpec describes a toast.
type ToastSpec struct {
	Message  string        `json:"message"`
	Links    []ToastLink   `json:"links,omitempty"`
	Duration time.Duration `json:"-"`
}

// ToastDuration is how long a toast stays up.
const ToastDuration = 7 * time.Second

func apply(m *overlay.Machine, ev InputEvent) {
	switch ev.Type {
	case "down":
		m.PointerDown(ev.X, ev.Y)
	case "move":
		m.PointerMove(ev.X, ev.Y)
	case "up":
		m.PointerUp(ev.X, ev.Y)
	case "key":
		m.Key(ev.Key)
	}
}
