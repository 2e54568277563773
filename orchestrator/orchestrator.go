// Package orchestrator is the privileged context. It owns one workflow per
// capture: it asks the page context of the active tab for content or a
// selection rectangle, transforms geometry, delegates cropping to the
// offscreen renderer, resolves images and posts the payload to the note
// service. It also serves the runtime commands other contexts broadcast.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/i18n"
	"github.com/hazyhaar/webclip/idgen"
	"github.com/hazyhaar/webclip/notesvc"
)

// Origin is the orchestrator's bus origin.
const Origin = "background"

// DefaultScraperTimeout bounds every page context call except the
// rectangle selection, which waits for the user.
const DefaultScraperTimeout = 30 * time.Second

// DefaultRendererTimeout bounds one crop.
const DefaultRendererTimeout = 30 * time.Second

// Tabs is the browser's tab capability.
type Tabs interface {
	Active(ctx context.Context) (clip.Tab, error)
	List(ctx context.Context) ([]clip.Tab, error)
	Zoom(ctx context.Context, tabID int) (float64, error)
	CaptureVisible(ctx context.Context, tabID int) (string, error)
	Create(ctx context.Context, url string) (clip.Tab, error)
	Remove(ctx context.Context, tabIDs ...int) error
	InjectScript(ctx context.Context, tabID int, file string) error
}

// NoteService is the note service client.
type NoteService interface {
	Post(ctx context.Context, collection clip.Collection, payload any) (string, error)
	Open(ctx context.Context, noteID string) (string, error)
	NotesByURL(ctx context.Context, pageURL string) (string, error)
	ServerURL(ctx context.Context) (string, error)
	Search(ctx context.Context) notesvc.Status
	Status() notesvc.Status
}

// SurfaceHost creates the offscreen renderer surface.
type SurfaceHost interface {
	CreateSurface() error
}

// ImageResolver fills in image data.
type ImageResolver interface {
	Resolve(ctx context.Context, images []*clip.ImageRef)
	ResolveOne(ctx context.Context, img *clip.ImageRef) error
}

// Localizer looks up user-facing strings.
type Localizer interface {
	T(key string, args ...any) string
}

// Journal records capture workflows.
type Journal interface {
	Begin(ctx context.Context, kind, phase string) (string, error)
	Advance(ctx context.Context, id, phase string) error
	SetPageURL(ctx context.Context, id, pageURL string) error
	Finish(ctx context.Context, id, phase, noteID string, cause error) error
}

// Orchestrator coordinates captures. Safe for concurrent use: concurrent
// captures each run their own workflow.
type Orchestrator struct {
	tabs     Tabs
	bus      *bus.Bus
	svc      NoteService
	host     SurfaceHost
	resolver ImageResolver
	tr       Localizer
	journal  Journal
	logger   *slog.Logger

	newToken   idgen.Generator
	newImageID idgen.Generator

	scraperTimeout  time.Duration
	rendererTimeout time.Duration

	mux *envelope.Mux

	mu      sync.Mutex
	closed  bool
	remove  func()
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLocalizer sets the string catalogue. Default: English.
func WithLocalizer(tr Localizer) Option {
	return func(o *Orchestrator) { o.tr = tr }
}

// WithJournal records every workflow's phases.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithTokenGenerator replaces the correlation token generator.
func WithTokenGenerator(g idgen.Generator) Option {
	return func(o *Orchestrator) { o.newToken = g }
}

// WithImageIDGenerator replaces the image id generator.
func WithImageIDGenerator(g idgen.Generator) Option {
	return func(o *Orchestrator) { o.newImageID = g }
}

// WithScraperTimeout bounds page context calls. Zero waits forever.
func WithScraperTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.scraperTimeout = d }
}

// WithRendererTimeout bounds crops. Zero waits forever.
func WithRendererTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.rendererTimeout = d }
}

// New creates an orchestrator from its capabilities. It fails if a runtime
// command has no handler.
func New(tabs Tabs, b *bus.Bus, svc NoteService, host SurfaceHost, resolver ImageResolver, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		tabs:            tabs,
		bus:             b,
		svc:             svc,
		host:            host,
		resolver:        resolver,
		logger:          slog.Default(),
		newToken:        idgen.Token(),
		newImageID:      idgen.ImageID(),
		scraperTimeout:  DefaultScraperTimeout,
		rendererTimeout: DefaultRendererTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tr == nil {
		tr, err := i18n.New(i18n.Fallback)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		o.tr = tr
	}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())

	o.mux = envelope.NewMux(
		envelope.WithLogger(o.logger),
		envelope.WithMiddleware(envelope.Recovery(o.logger), envelope.Logging(o.logger)),
	)
	o.register()
	if err := o.mux.Validate(Consumed...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return o, nil
}

// Start begins serving runtime broadcasts.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.remove == nil {
		o.remove = o.bus.Listen(Origin, o.receive)
	}
}

// Close stops serving broadcasts and waits for the commands in flight.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.remove != nil {
		o.remove()
		o.remove = nil
	}
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// ask sends req to the page context of tabID and decodes the reply into
// out. timeout <= 0 waits until ctx ends.
func (o *Orchestrator) ask(ctx context.Context, tabID int, name envelope.Name, body, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := envelope.New(name, body)
	if err != nil {
		return err
	}
	resp, err := o.bus.SendToTab(ctx, tabID, req)
	if err != nil {
		if errors.Is(err, bus.ErrNoReceiver) || errors.Is(err, bus.ErrContextGone) {
			return fmt.Errorf("%w: %v", clip.ErrScraperUnreachable, err)
		}
		return fmt.Errorf("orchestrator: %s: %w", name, err)
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// toast shows message in the active tab. Failures are logged: a capture
// never fails because its notification could not be shown.
func (o *Orchestrator) toast(ctx context.Context, message, noteID string, tabIDs []int) {
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: toast without active tab", "message", message, "error", err)
		return
	}
	req := envelope.ToastRequest{Message: message, NoteID: noteID, TabIDs: tabIDs}
	if err := o.ask(ctx, tab.ID, envelope.Toast, req, nil, o.scraperTimeout); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: toast failed", "tab", tab.ID, "error", err)
	}
}

// remoteCause maps an error reported by another context back onto the
// sentinel it names, so callers can still use errors.Is.
func remoteCause(err error, sentinels ...error) error {
	var re *envelope.RemoteError
	if !errors.As(err, &re) {
		return err
	}
	for _, s := range sentinels {
		if strings.Contains(re.Message, s.Error()) {
			return fmt.Errorf("%w: %s", s, re.Message)
		}
	}
	return err
}
