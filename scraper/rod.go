package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/idgen"
	"github.com/hazyhaar/webclip/overlay"
)

// RodPage is a Page backed by a Chrome tab. Helper scripts must already be
// injected for Overlay and ShowToast to work.
type RodPage struct {
	page   *rod.Page
	newID  idgen.Generator
	logger *slog.Logger
}

// NewRodPage wraps p.
func NewRodPage(p *rod.Page, logger *slog.Logger) *RodPage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodPage{page: p, newID: idgen.Token(), logger: logger}
}

func (p *RodPage) eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (p *RodPage) evalStr(ctx context.Context, js string) (string, error) {
	v, err := p.eval(ctx, js)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// URL implements Page.
func (p *RodPage) URL(ctx context.Context) (string, error) {
	return p.evalStr(ctx, `() => location.href`)
}

// Title implements Page.
func (p *RodPage) Title(ctx context.Context) (string, error) {
	return p.evalStr(ctx, `() => {
		const t = document.getElementsByTagName('title');
		return t.length ? t[0].text.trim() : document.title.trim();
	}`)
}

// SelectionHTML implements Page.
func (p *RodPage) SelectionHTML(ctx context.Context) (string, error) {
	return p.evalStr(ctx, `() => {
		const container = document.createElement('div');
		const selection = window.getSelection();
		for (let i = 0; i < selection.rangeCount; i++) {
			container.appendChild(selection.getRangeAt(i).cloneContents());
		}
		return container.innerHTML;
	}`)
}

// DocumentHTML implements Page.
func (p *RodPage) DocumentHTML(ctx context.Context) (string, error) {
	return p.evalStr(ctx, `() => document.documentElement.outerHTML`)
}

// DevicePixelRatio implements Page.
func (p *RodPage) DevicePixelRatio(ctx context.Context) (float64, error) {
	v, err := p.eval(ctx, `() => window.devicePixelRatio || 1`)
	if err != nil {
		return 0, err
	}
	return v.Num(), nil
}

// Overlay implements Page.
func (p *RodPage) Overlay(message string) (overlay.Surface, <-chan InputEvent) {
	s := &rodSurface{
		page:    p.page,
		message: message,
		binding: "__webclipOverlay_" + p.newID(),
		events:  make(chan InputEvent, 64),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  p.logger,
	}
	return s, s.events
}

// ShowToast implements Page.
func (p *RodPage) ShowToast(ctx context.Context, t ToastSpec, onClick func(envelope.Envelope)) error {
	binding := ""
	if len(t.Links) > 0 {
		binding = "__webclipToast_" + p.newID()
		var stop func() error
		var once sync.Once
		var err error
		stop, err = p.page.Expose(binding, func(j gson.JSON) (interface{}, error) {
			var ev struct {
				Link      *int `json:"link"`
				Dismissed bool `json:"dismissed"`
			}
			if err := json.Unmarshal([]byte(j.Str()), &ev); err != nil {
				return nil, err
			}
			if ev.Link != nil && *ev.Link >= 0 && *ev.Link < len(t.Links) {
				onClick(t.Links[*ev.Link].Action)
			}
			if ev.Dismissed {
				go once.Do(func() { _ = stop() })
			}
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("expose toast binding: %w", err)
		}
	}
	payload := struct {
		ToastSpec
		DurationMs int64 `json:"durationMs"`
	}{t, t.Duration.Milliseconds()}
	_, err := p.eval(ctx, `(b, t) => window.__webclip.toast(b, t)`, binding, payload)
	return err
}

// rodSurface draws the overlay in the page. Input comes back through a
// per-selection binding. Draw calls are coalesced so the state machine
// never waits on the page.
type rodSurface struct {
	page    *rod.Page
	message string
	binding string
	events  chan InputEvent
	logger  *slog.Logger

	mu      sync.Mutex
	pending *clip.Rect
	kick    chan struct{}
	done    chan struct{}
	stop    func() error
	once    sync.Once
}

func (s *rodSurface) Show(ctx context.Context) error {
	stop, err := s.page.Expose(s.binding, func(j gson.JSON) (interface{}, error) {
		var ev InputEvent
		if err := json.Unmarshal([]byte(j.Str()), &ev); err != nil {
			return nil, err
		}
		select {
		case s.events <- ev:
		case <-s.done:
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("expose overlay binding: %w", err)
	}
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	go s.drawLoop()

	_, err = s.page.Context(ctx).Eval(`(b, m) => window.__webclip.overlay.show(b, m)`, s.binding, s.message)
	return err
}

func (s *rodSurface) Draw(r clip.Rect) {
	s.mu.Lock()
	s.pending = &r
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *rodSurface) Teardown() {
	s.once.Do(func() {
		close(s.done)
		if _, err := s.page.Eval(`() => window.__webclip && window.__webclip.overlay && window.__webclip.overlay.teardown()`); err != nil {
			s.logger.Debug("scraper: overlay teardown", "error", err)
		}
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			_ = stop()
		}
	})
}

func (s *rodSurface) drawLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
			s.mu.Lock()
			r := s.pending
			s.pending = nil
			s.mu.Unlock()
			if r == nil {
				continue
			}
			if _, err := s.page.Eval(`(r) => window.__webclip.overlay.draw(r)`, *r); err != nil {
				s.logger.Debug("scraper: overlay draw", "error", err)
			}
		}
	}
}
