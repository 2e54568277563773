// Package browser owns the Chrome instance webclip captures from: launch or
// connect through go-rod, a registry of tabs with one active tab, and one
// scraper attached to the bus per tab. Manager is the tab capability the
// orchestrator is built with.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/webclip/assets"
	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/scraper"
)

// ErrUnknownTab means no registered tab has the id.
var ErrUnknownTab = errors.New("browser: unknown tab")

// Config configures the manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty launches a local Chrome.
	RemoteURL string

	// Bin overrides the Chrome binary the launcher looks up.
	Bin string

	// Headless runs a local Chrome without a window. Headful with a non-empty
	// XvfbDisplay runs it on a virtual display.
	Headless    bool
	XvfbDisplay string

	// XvfbScreen is the virtual screen geometry. Default: 1920x1080x24.
	XvfbScreen string

	// StartURL is opened in the first tab. Default: about:blank.
	StartURL string

	// BlockResources lists resource types never loaded: fonts, media,
	// stylesheets, websocket, eventsource, manifest, ping, prefetch.
	BlockResources []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.StartURL == "" {
		c.StartURL = "about:blank"
	}
	if c.XvfbScreen == "" {
		c.XvfbScreen = "1920x1080x24"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages Chrome and its tabs. Safe for concurrent use.
type Manager struct {
	cfg         Config
	bus         *bus.Bus
	scraperOpts []scraper.Option

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	block   resourcePolicy
	tabs    map[int]*Tab
	targets map[proto.TargetTargetID]int
	nextID  int
	active  int
	closed  bool
}

// NewManager creates a Manager attaching scrapers to b. Call Start to
// launch Chrome.
func NewManager(cfg Config, b *bus.Bus, scraperOpts ...scraper.Option) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:         cfg,
		bus:         b,
		scraperOpts: scraperOpts,
		tabs:        make(map[int]*Tab),
		targets:     make(map[proto.TargetTargetID]int),
	}
}

// Start launches Chrome (or connects to a remote instance), adopts the
// pages it already has and makes sure one tab is open.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("browser: manager is closed")
	}
	block, err := parseBlockList(m.cfg.BlockResources)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.block = block
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.browser = b
	m.mu.Unlock()

	if err := m.Sync(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	empty := len(m.tabs) == 0
	m.mu.RUnlock()
	if empty {
		if _, err := m.Create(ctx, m.cfg.StartURL); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.xvfb != nil {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			m.stopXvfb()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// Close detaches every scraper and shuts Chrome down. A remote Chrome is
// left running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, t := range m.tabs {
		t.release()
		delete(m.tabs, id)
	}
	if m.browser != nil {
		if m.lnch != nil {
			m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return nil
}

// Sync registers pages opened outside the manager and forgets tabs whose
// page is gone.
func (m *Manager) Sync(ctx context.Context) error {
	b := m.rodBrowser()
	if b == nil {
		return fmt.Errorf("browser: no active browser")
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("browser: list pages: %w", err)
	}

	alive := make(map[proto.TargetTargetID]*rod.Page, len(pages))
	for _, p := range pages {
		alive[p.TargetID] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for target, id := range m.targets {
		if _, ok := alive[target]; !ok {
			m.forgetLocked(id)
		}
	}
	for target, p := range alive {
		if _, ok := m.targets[target]; ok {
			continue
		}
		if _, err := m.registerLocked(p); err != nil {
			m.cfg.Logger.Warn("browser: adopt page failed", "target", target, "error", err)
		}
	}
	return nil
}

func (m *Manager) rodBrowser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// registerLocked gives p a tab id, attaches its scraper and makes it active.
func (m *Manager) registerLocked(p *rod.Page) (*Tab, error) {
	m.nextID++
	id := m.nextID

	opts := append([]scraper.Option{scraper.WithLogger(m.cfg.Logger)}, m.scraperOpts...)
	s, err := scraper.New(id, scraper.NewRodPage(p, m.cfg.Logger), m.bus, opts...)
	if err != nil {
		return nil, fmt.Errorf("browser: scraper for tab %d: %w", id, err)
	}
	s.Attach()

	ctx, stop := context.WithCancel(context.Background())
	go watchNavigation(ctx, p, s)

	t := &Tab{ID: id, Page: p, scraper: s, stop: stop}
	if len(m.block) > 0 {
		t.router = m.block.hijack(p, m.cfg.Logger)
	}
	m.tabs[id] = t
	m.targets[p.TargetID] = id
	m.active = id
	m.cfg.Logger.Debug("browser: tab registered", "tab", id, "target", p.TargetID)
	return t, nil
}

// watchNavigation resets the scraper's script registry every time the main
// frame commits a new document, until ctx is done.
func watchNavigation(ctx context.Context, p *rod.Page, s *scraper.Scraper) {
	p.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if isMainFrame(e) {
			s.Navigated()
		}
	})()
}

func isMainFrame(e *proto.PageFrameNavigated) bool {
	return e.Frame != nil && e.Frame.ParentID == ""
}

func (m *Manager) forgetLocked(id int) {
	t, ok := m.tabs[id]
	if !ok {
		return
	}
	t.release()
	delete(m.tabs, id)
	delete(m.targets, t.Page.TargetID)
	if m.active == id {
		m.active = 0
		// Fall back to the most recently opened remaining tab.
		for other := range m.tabs {
			if other > m.active {
				m.active = other
			}
		}
	}
}

func (m *Manager) tab(id int) (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTab, id)
	}
	return t, nil
}

// Active returns the focused tab.
func (m *Manager) Active(ctx context.Context) (clip.Tab, error) {
	m.mu.RLock()
	t, ok := m.tabs[m.active]
	m.mu.RUnlock()
	if !ok {
		return clip.Tab{}, clip.ErrNoActiveTab
	}
	return t.info(ctx)
}

// Activate focuses tab id.
func (m *Manager) Activate(ctx context.Context, id int) error {
	t, err := m.tab(id)
	if err != nil {
		return err
	}
	if _, err := t.Page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("browser: activate tab %d: %w", id, err)
	}
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()
	return nil
}

// List returns the tabs of the window in opening order.
func (m *Manager) List(ctx context.Context) ([]clip.Tab, error) {
	if err := m.Sync(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.mu.RUnlock()
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })

	out := make([]clip.Tab, 0, len(tabs))
	for _, t := range tabs {
		info, err := t.info(ctx)
		if err != nil {
			m.cfg.Logger.Warn("browser: tab info failed", "tab", t.ID, "error", err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Zoom returns the zoom factor of tab id.
func (m *Manager) Zoom(ctx context.Context, id int) (float64, error) {
	t, err := m.tab(id)
	if err != nil {
		return 0, err
	}
	return t.zoom(ctx)
}

// CaptureVisible screenshots the visible viewport of tab id as a PNG data URI.
func (m *Manager) CaptureVisible(ctx context.Context, id int) (string, error) {
	t, err := m.tab(id)
	if err != nil {
		return "", err
	}
	png, err := t.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("browser: capture tab %d: %w", id, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Create opens a stealth tab on pageURL and makes it active.
func (m *Manager) Create(ctx context.Context, pageURL string) (clip.Tab, error) {
	b := m.rodBrowser()
	if b == nil {
		return clip.Tab{}, fmt.Errorf("browser: no active browser")
	}
	p, err := stealth.Page(b)
	if err != nil {
		return clip.Tab{}, fmt.Errorf("browser: create tab: %w", err)
	}

	m.mu.Lock()
	t, err := m.registerLocked(p)
	m.mu.Unlock()
	if err != nil {
		p.Close()
		return clip.Tab{}, err
	}

	if err := t.navigate(ctx, pageURL, m.cfg.Logger); err != nil {
		m.mu.Lock()
		m.forgetLocked(t.ID)
		m.mu.Unlock()
		p.Close()
		return clip.Tab{}, err
	}
	return t.info(ctx)
}

// Remove closes tabs. Unknown ids are skipped.
func (m *Manager) Remove(ctx context.Context, ids ...int) error {
	var errs []error
	for _, id := range ids {
		m.mu.Lock()
		t, ok := m.tabs[id]
		if ok {
			m.forgetLocked(id)
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := t.Page.Context(ctx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: close tab %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// InjectScript evaluates an embedded helper script in tab id's main world.
func (m *Manager) InjectScript(ctx context.Context, id int, file string) error {
	t, err := m.tab(id)
	if err != nil {
		return err
	}
	src, err := assets.Script(file)
	if err != nil {
		return err
	}
	res, err := proto.RuntimeEvaluate{Expression: src}.Call(t.Page.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: inject %s into tab %d: %w", file, id, err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("browser: inject %s into tab %d: %s", file, id, res.ExceptionDetails.Text)
	}
	return nil
}
