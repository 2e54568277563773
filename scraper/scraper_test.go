package scraper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/webclip/assets"
	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/idgen"
	"github.com/hazyhaar/webclip/overlay"
)

type fakeSurface struct {
	shown     chan struct{}
	once      sync.Once
	mu        sync.Mutex
	teardowns int
}

func (f *fakeSurface) Show(context.Context) error {
	f.once.Do(func() { close(f.shown) })
	return nil
}
func (f *fakeSurface) Draw(clip.Rect) {}
func (f *fakeSurface) Teardown() {
	f.mu.Lock()
	f.teardowns++
	f.mu.Unlock()
}

type fakePage struct {
	href      string
	title     string
	selection string
	doc       string
	dpr       float64

	mu       sync.Mutex
	surfaces []*fakeSurface
	events   chan InputEvent
	toasts   []ToastSpec
	onClick  func(envelope.Envelope)
}

func (p *fakePage) URL(context.Context) (string, error)           { return p.href, nil }
func (p *fakePage) Title(context.Context) (string, error)         { return p.title, nil }
func (p *fakePage) SelectionHTML(context.Context) (string, error) { return p.selection, nil }
func (p *fakePage) DocumentHTML(context.Context) (string, error)  { return p.doc, nil }
func (p *fakePage) DevicePixelRatio(context.Context) (float64, error) {
	return p.dpr, nil
}

func (p *fakePage) Overlay(string) (overlay.Surface, <-chan InputEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSurface{shown: make(chan struct{})}
	p.surfaces = append(p.surfaces, s)
	p.events = make(chan InputEvent, 16)
	return s, p.events
}

func (p *fakePage) ShowToast(_ context.Context, t ToastSpec, onClick func(envelope.Envelope)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toasts = append(p.toasts, t)
	p.onClick = onClick
	return nil
}

func (p *fakePage) surfaceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.surfaces)
}

func (p *fakePage) lastSurface() (*fakeSurface, chan InputEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.surfaces) == 0 {
		return nil, nil
	}
	return p.surfaces[len(p.surfaces)-1], p.events
}

type recordingLoader struct {
	mu    sync.Mutex
	files []string
}

func (l *recordingLoader) LoadScript(_ context.Context, file string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = append(l.files, file)
	return nil
}

func (l *recordingLoader) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.files...)
}

func setup(t *testing.T, page *fakePage, opts ...Option) (*bus.Bus, *Scraper, *recordingLoader) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	loader := &recordingLoader{}
	opts = append([]Option{
		WithScriptLoader(loader),
		WithIDGenerator(idgen.Sequence("img")),
		WithSettleDelay(0),
	}, opts...)
	s, err := New(7, page, b, opts...)
	require.NoError(t, err)
	s.Attach()
	t.Cleanup(s.Close)
	return b, s, loader
}

func send(t *testing.T, b *bus.Bus, name envelope.Name, body any, out any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := b.SendToTab(ctx, 7, envelope.MustNew(name, body))
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, resp.Decode(out))
	}
}

func TestSaveSelection(t *testing.T) {
	page := &fakePage{
		href:      "https://user:pw@example.com/dir/p?q=1#h",
		title:     "A page",
		selection: `<p>Hi <img src="/a.png"><img src="/a.png"> <a href="x">l</a></p>`,
	}
	b, _, _ := setup(t, page)

	var p clip.Payload
	send(t, b, envelope.SaveSelection, nil, &p)

	assert.Equal(t, "A page", p.Title)
	assert.Equal(t, "https://example.com/dir/p?q=1#h", p.PageURL)
	assert.Equal(t, clip.ClipSelection, p.ClipType)
	require.Len(t, p.Images, 1)
	assert.Equal(t, "img1", p.Images[0].ID)
	assert.Equal(t, "https://example.com/a.png", p.Images[0].Src)
	assert.Equal(t, 2, strings.Count(p.Content, `src="img1"`))
	assert.Contains(t, p.Content, `href="https://example.com/dir/x"`)
}

func TestSaveSelection_Sanitised(t *testing.T) {
	page := &fakePage{
		href:      "https://example.com/",
		selection: `<p onclick="steal()">ok</p><script>alert(1)</script>`,
	}
	b, _, _ := setup(t, page)

	var p clip.Payload
	send(t, b, envelope.SaveSelection, nil, &p)
	assert.Contains(t, p.Content, "ok")
	assert.NotContains(t, p.Content, "onclick")
	assert.NotContains(t, p.Content, "alert")
}

func TestSavePage(t *testing.T) {
	lorem := strings.Repeat("Readable words in a paragraph. ", 5)
	page := &fakePage{
		href: "https://example.com/post#comments",
		doc: `<html><head><title>Post</title>
			<meta property="article:published_time" content="2024-03-05T10:00:00Z">
			<meta property="article:modified_time" content="2024-04-01T08:00:00+02:00">
			</head><body><nav>menu</nav>
			<article><p>` + lorem + `</p><img src="pic.jpg"><img src="pic.jpg"></article>
			</body></html>`,
	}
	b, _, _ := setup(t, page)

	var reply envelope.PageReply
	send(t, b, envelope.SavePage, nil, &reply)

	p := reply.Payload
	assert.Equal(t, "Post", p.Title)
	assert.Equal(t, "https://example.com/post", p.PageURL)
	assert.Equal(t, clip.ClipPage, p.ClipType)
	require.Len(t, p.Images, 1)
	assert.Equal(t, "https://example.com/pic.jpg", p.Images[0].Src)
	assert.NotContains(t, p.Content, "menu")
	assert.Equal(t, "2024-03-05T10:00:00Z", reply.PublishedTime)
	assert.Equal(t, "2024-04-01T08:00:00+02:00", reply.ModifiedTime)
}

// runRectangle requests a rectangle and feeds events to the n-th overlay
// the page shows.
func runRectangle(t *testing.T, b *bus.Bus, page *fakePage, n int, events []InputEvent) envelope.RectangleReply {
	t.Helper()
	got := make(chan envelope.RectangleReply, 1)
	errs := make(chan error, 1)
	go func() {
		resp, err := b.SendToTab(context.Background(), 7, envelope.MustNew(envelope.GetRectangle, nil))
		if err != nil {
			errs <- err
			return
		}
		var r envelope.RectangleReply
		if err := resp.Decode(&r); err != nil {
			errs <- err
			return
		}
		got <- r
	}()

	require.Eventually(t, func() bool {
		s, _ := page.lastSurface()
		if s == nil || page.surfaceCount() != n {
			return false
		}
		select {
		case <-s.shown:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	_, ch := page.lastSurface()
	for _, ev := range events {
		ch <- ev
	}

	select {
	case r := <-got:
		return r
	case err := <-errs:
		t.Fatalf("rectangle: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("rectangle: no reply")
	}
	return envelope.RectangleReply{}
}

func TestRectangle_Drag(t *testing.T) {
	page := &fakePage{}
	b, _, loader := setup(t, page)

	r := runRectangle(t, b, page, 1, []InputEvent{
		{Type: "down", X: 110, Y: 70},
		{Type: "move", X: 50, Y: 100},
		{Type: "up", X: 10, Y: 20},
	})
	assert.False(t, r.Cancelled)
	assert.Equal(t, clip.Rect{X: 10, Y: 20, Width: 100, Height: 50}, r.Rect)

	// The overlay script is loaded once per page context.
	r = runRectangle(t, b, page, 2, []InputEvent{{Type: "key", Key: "Escape"}})
	assert.True(t, r.Cancelled)
	assert.Equal(t, []string{assets.OverlayScript}, loader.calls())
}

func TestRectangle_ReinjectsOverlayAfterNavigation(t *testing.T) {
	page := &fakePage{}
	b, s, loader := setup(t, page)

	r := runRectangle(t, b, page, 1, []InputEvent{{Type: "key", Key: "Escape"}})
	assert.True(t, r.Cancelled)
	assert.True(t, s.Libs().Loaded(assets.OverlayScript))

	s.Navigated()
	assert.False(t, s.Libs().Loaded(assets.OverlayScript))

	r = runRectangle(t, b, page, 2, []InputEvent{{Type: "key", Key: "Escape"}})
	assert.True(t, r.Cancelled)
	assert.Equal(t, []string{assets.OverlayScript, assets.OverlayScript}, loader.calls())
}

func TestToast_ReinjectsAfterNavigation(t *testing.T) {
	page := &fakePage{}
	b, s, loader := setup(t, page)

	send(t, b, envelope.Toast, envelope.ToastRequest{Message: "one"}, nil)
	send(t, b, envelope.Toast, envelope.ToastRequest{Message: "two"}, nil)
	s.Navigated()
	send(t, b, envelope.Toast, envelope.ToastRequest{Message: "three"}, nil)

	assert.Equal(t, []string{assets.ToastScript, assets.ToastScript}, loader.calls())
}

func TestRectangle_ClickIsCancellation(t *testing.T) {
	page := &fakePage{}
	b, _, _ := setup(t, page)

	r := runRectangle(t, b, page, 1, []InputEvent{
		{Type: "down", X: 30, Y: 30},
		{Type: "up", X: 30, Y: 30},
	})
	assert.True(t, r.Cancelled)
}

func TestPixelRatio_Default(t *testing.T) {
	b, _, _ := setup(t, &fakePage{})
	var r envelope.PixelRatioReply
	send(t, b, envelope.GetDevicePixelRatio, nil, &r)
	assert.Equal(t, 1.0, r.Ratio)
}

func TestToast_LinksBroadcastActions(t *testing.T) {
	page := &fakePage{}
	b, _, loader := setup(t, page)

	got := make(chan envelope.Envelope, 1)
	defer b.Listen("background", func(env envelope.Envelope) { got <- env })()

	send(t, b, envelope.Toast, envelope.ToastRequest{Message: "saved", NoteID: "n1", TabIDs: []int{1, 2}}, nil)

	page.mu.Lock()
	require.Len(t, page.toasts, 1)
	spec := page.toasts[0]
	click := page.onClick
	page.mu.Unlock()

	assert.Equal(t, "saved", spec.Message)
	assert.Equal(t, ToastDuration, spec.Duration)
	require.Len(t, spec.Links, 2)
	assert.Equal(t, envelope.OpenNote, spec.Links[0].Action.Name)
	assert.Equal(t, "tomato", spec.Links[1].Color)
	assert.Equal(t, []string{assets.ToastScript}, loader.calls())

	click(spec.Links[1].Action)
	select {
	case env := <-got:
		assert.Equal(t, envelope.CloseTabs, env.Name)
		var req envelope.TabsRequest
		require.NoError(t, env.Decode(&req))
		assert.Equal(t, []int{1, 2}, req.TabIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
	}
}

func TestToast_PlainMessage(t *testing.T) {
	page := &fakePage{}
	b, _, _ := setup(t, page)
	send(t, b, envelope.Toast, envelope.ToastRequest{Message: "oops"}, nil)

	page.mu.Lock()
	defer page.mu.Unlock()
	require.Len(t, page.toasts, 1)
	assert.Empty(t, page.toasts[0].Links)
}

func TestBusLoader(t *testing.T) {
	b := bus.New()
	defer b.Close()

	b.Listen("background", func(env envelope.Envelope) {
		if env.Name != envelope.LoadScript {
			return
		}
		var req envelope.LoadScriptRequest
		_ = env.Decode(&req)
		res := envelope.Result{Success: req.File == assets.OverlayScript && req.TabID == 7}
		if !res.Success {
			res.Error = "no such script"
		}
		reply, _ := envelope.Reply(env, res)
		_ = b.Broadcast("background", reply)
	})

	libs := NewLibs(BusLoader{Bus: b, Origin: Origin(7), TabID: 7})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, libs.Require(ctx, assets.OverlayScript))
	assert.True(t, libs.Loaded(assets.OverlayScript))

	err := libs.Require(ctx, "lib/other.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such script")
	assert.False(t, libs.Loaded("lib/other.js"))
}

func TestNew_HandlesEveryConsumedName(t *testing.T) {
	s, err := New(1, &fakePage{}, bus.New())
	require.NoError(t, err)
	for _, n := range Consumed {
		assert.True(t, s.mux.Has(n), n)
	}
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, "https://a.com/x?y=1#z", pageURL("https://u:p@a.com/x?y=1#z", true))
	assert.Equal(t, "https://a.com/x?y=1", pageURL("https://a.com/x?y=1#z", false))
}
