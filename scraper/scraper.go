// Package scraper is the page context: one Scraper per browsed tab. It
// extracts selections and readable articles, runs the rectangle selection
// overlay and shows toasts, answering the orchestrator through the bus.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/webclip/assets"
	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/extract"
	"github.com/hazyhaar/webclip/idgen"
	"github.com/hazyhaar/webclip/imageref"
	"github.com/hazyhaar/webclip/overlay"
)

// Consumed lists the envelopes a page context answers.
var Consumed = []envelope.Name{
	envelope.SaveSelection,
	envelope.SavePage,
	envelope.GetRectangle,
	envelope.GetDevicePixelRatio,
	envelope.Toast,
}

// Localizer looks up user-facing strings.
type Localizer interface {
	T(key string, args ...any) string
}

type keyLocalizer struct{}

func (keyLocalizer) T(key string, _ ...any) string { return key }

// Origin is the bus origin of the page context of tabID.
func Origin(tabID int) string { return fmt.Sprintf("content:%d", tabID) }

// Scraper serves one tab.
type Scraper struct {
	tabID  int
	page   Page
	bus    *bus.Bus
	libs   *Libs
	tr     Localizer
	mux    *envelope.Mux
	newID  idgen.Generator
	settle time.Duration
	policy *bluemonday.Policy
	logger *slog.Logger

	mu     sync.Mutex
	detach func()
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithLocalizer sets the string catalogue.
func WithLocalizer(tr Localizer) Option {
	return func(s *Scraper) { s.tr = tr }
}

// WithIDGenerator replaces the image id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Scraper) { s.newID = g }
}

// WithSettleDelay overrides overlay.SettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Scraper) { s.settle = d }
}

// WithScriptLoader replaces the bus-backed script loader.
func WithScriptLoader(l ScriptLoader) Option {
	return func(s *Scraper) { s.libs = NewLibs(l) }
}

// New creates the page context of tabID. It fails if a consumed envelope
// has no handler.
func New(tabID int, page Page, b *bus.Bus, opts ...Option) (*Scraper, error) {
	s := &Scraper{
		tabID:  tabID,
		page:   page,
		bus:    b,
		tr:     keyLocalizer{},
		newID:  idgen.ImageID(),
		settle: overlay.SettleDelay,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.libs == nil {
		s.libs = NewLibs(BusLoader{Bus: b, Origin: Origin(tabID), TabID: tabID})
	}
	s.policy = bluemonday.UGCPolicy()
	s.policy.AllowDataURIImages()

	s.mux = envelope.NewMux(
		envelope.WithLogger(s.logger),
		envelope.WithMiddleware(envelope.Recovery(s.logger), envelope.Logging(s.logger)),
	)
	envelope.Handle(s.mux, envelope.SaveSelection, s.saveSelection)
	envelope.Handle(s.mux, envelope.SavePage, s.savePage)
	envelope.Handle(s.mux, envelope.GetRectangle, s.rectangle)
	envelope.Handle(s.mux, envelope.GetDevicePixelRatio, s.pixelRatio)
	envelope.Handle(s.mux, envelope.Toast, s.toast)
	if err := s.mux.Validate(Consumed...); err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	return s, nil
}

// Attach connects the scraper to its tab on the bus.
func (s *Scraper) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach == nil {
		s.detach = s.bus.Attach(s.tabID, s.mux.Dispatch)
	}
}

// Close detaches the scraper. In-flight orchestrator calls fail with
// bus.ErrContextGone.
func (s *Scraper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// Navigated tells the scraper its tab committed a new main-frame document.
// Helper scripts are injected again on next use.
func (s *Scraper) Navigated() {
	s.libs.Reset()
	s.logger.Debug("scraper: document replaced", "tab", s.tabID)
}

// Libs exposes the script registry.
func (s *Scraper) Libs() *Libs { return s.libs }

func (s *Scraper) saveSelection(ctx context.Context, _ struct{}) (clip.Payload, error) {
	fragment, err := s.page.SelectionHTML(ctx)
	if err != nil {
		return clip.Payload{}, fmt.Errorf("scraper: selection: %w", err)
	}
	href, err := s.page.URL(ctx)
	if err != nil {
		return clip.Payload{}, fmt.Errorf("scraper: location: %w", err)
	}
	title, err := s.page.Title(ctx)
	if err != nil {
		return clip.Payload{}, fmt.Errorf("scraper: title: %w", err)
	}

	content, images, err := imageref.ExtractFragment(s.policy.Sanitize(fragment), href, s.newID)
	if err != nil {
		return clip.Payload{}, err
	}
	return clip.Payload{
		Title:    title,
		Content:  content,
		Images:   images,
		PageURL:  pageURL(href, true),
		ClipType: clip.ClipSelection,
	}, nil
}

func (s *Scraper) savePage(ctx context.Context, _ struct{}) (envelope.PageReply, error) {
	raw, err := s.page.DocumentHTML(ctx)
	if err != nil {
		return envelope.PageReply{}, fmt.Errorf("scraper: document: %w", err)
	}
	href, err := s.page.URL(ctx)
	if err != nil {
		return envelope.PageReply{}, fmt.Errorf("scraper: location: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return envelope.PageReply{}, fmt.Errorf("scraper: parse document: %w", err)
	}

	published := extract.Meta(doc, "article:published_time")
	modified := extract.Meta(doc, "article:modified_time")
	article := extract.Readable(doc, 0)

	content, images, err := imageref.ExtractFragment(
		s.policy.Sanitize(extract.InnerHTML(article.Content)), href, s.newID)
	if err != nil {
		return envelope.PageReply{}, err
	}
	s.logger.DebugContext(ctx, "scraper: page extracted",
		"tab", s.tabID, "text_len", len(article.Text), "images", len(images))

	return envelope.PageReply{
		Payload: clip.Payload{
			Title:    article.Title,
			Content:  content,
			Images:   images,
			PageURL:  pageURL(href, false),
			ClipType: clip.ClipPage,
		},
		PublishedTime: published,
		ModifiedTime:  modified,
	}, nil
}

// rectangle runs one selection overlay and reports its outcome.
func (s *Scraper) rectangle(ctx context.Context, _ struct{}) (envelope.RectangleReply, error) {
	if err := s.libs.Require(ctx, assets.OverlayScript); err != nil {
		return envelope.RectangleReply{}, err
	}

	surface, events := s.page.Overlay(s.tr.T("drag_release_screenshot"))
	m := overlay.New(surface, overlay.WithSettleDelay(s.settle))
	if err := m.Arm(ctx); err != nil {
		return envelope.RectangleReply{}, fmt.Errorf("scraper: show overlay: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case ev := <-events:
				apply(m, ev)
			case <-done:
				return
			}
		}
	}()

	res, err := m.Wait(ctx)
	if err != nil {
		return envelope.RectangleReply{}, err
	}
	return envelope.RectangleReply{Rect: res.Rect, Cancelled: res.Cancelled}, nil
}

func (s *Scraper) pixelRatio(ctx context.Context, _ struct{}) (envelope.PixelRatioReply, error) {
	r, err := s.page.DevicePixelRatio(ctx)
	if err != nil {
		return envelope.PixelRatioReply{}, fmt.Errorf("scraper: device pixel ratio: %w", err)
	}
	if r <= 0 {
		r = 1
	}
	return envelope.PixelRatioReply{Ratio: r}, nil
}

// toast shows a notification. Its links broadcast the corresponding
// orchestrator commands.
func (s *Scraper) toast(ctx context.Context, req envelope.ToastRequest) (struct{}, error) {
	if err := s.libs.Require(ctx, assets.ToastScript); err != nil {
		return struct{}{}, err
	}
	spec := ToastSpec{Message: req.Message, Duration: ToastDuration}
	if req.NoteID != "" {
		spec.Links = append(spec.Links, ToastLink{
			Text:   s.tr.T("open_in_trilium"),
			Action: envelope.MustNew(envelope.OpenNote, envelope.NoteRequest{NoteID: req.NoteID}),
		})
		if len(req.TabIDs) > 0 {
			spec.Links = append(spec.Links, ToastLink{
				Text:   s.tr.T("close_saved_tabs"),
				Color:  "tomato",
				Action: envelope.MustNew(envelope.CloseTabs, envelope.TabsRequest{TabIDs: req.TabIDs}),
			})
		}
	}
	err := s.page.ShowToast(ctx, spec, func(action envelope.Envelope) {
		if err := s.bus.Broadcast(Origin(s.tabID), action); err != nil {
			s.logger.Warn("scraper: toast action", "name", action.Name, "error", err)
		}
	})
	if err != nil {
		return struct{}{}, fmt.Errorf("scraper: toast: %w", err)
	}
	return struct{}{}, nil
}

// pageURL strips credentials, and the fragment unless keepHash.
func pageURL(href string, keepHash bool) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	u.User = nil
	if !keepHash {
		u.Fragment = ""
		u.RawFragment = ""
	}
	return u.String()
}
