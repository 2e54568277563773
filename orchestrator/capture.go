package orchestrator

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/kit"
)

// Outcome is what a capture produced. A zero NoteID with a nil error means
// the service had nothing to report.
type Outcome struct {
	NoteID    string `json:"noteId,omitempty"`
	TabIDs    []int  `json:"tabIds,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// notice is the toast shown when a capture ends.
type notice struct {
	key     string
	args    []any
	tabIDs  []int
	failKey string
}

// CaptureSelection clips the active tab's selection.
func (o *Orchestrator) CaptureSelection(ctx context.Context) (Outcome, error) {
	w := o.begin(ctx, KindSelection)
	n := notice{key: "saved_selection"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	if err := w.to(ctx, PhaseAwaitingScraper); err != nil {
		return Outcome{}, err
	}
	var p clip.Payload
	if err := o.ask(ctx, tab.ID, envelope.SaveSelection, nil, &p, o.scraperTimeout); err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	o.resolver.Resolve(ctx, p.Images)
	p.ClipType = clip.ClipSelection

	noteID, err := o.post(ctx, w, clip.Clippings, &p, n)
	return Outcome{NoteID: noteID}, err
}

// CaptureCroppedScreenshot lets the user drag a rectangle over the active
// tab and clips that part of the visible viewport. A cancelled selection
// ends the capture without error and without posting. An empty pageURL
// files the clipping under the tab's URL.
func (o *Orchestrator) CaptureCroppedScreenshot(ctx context.Context, pageURL string) (Outcome, error) {
	w := o.begin(ctx, KindCroppedScreenshot)
	n := notice{key: "saved_screenshot"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}

	if err := w.to(ctx, PhaseAwaitingScraper); err != nil {
		return Outcome{}, err
	}
	// The user takes as long as they like: only ctx bounds the selection.
	var sel envelope.RectangleReply
	if err := o.ask(ctx, tab.ID, envelope.GetRectangle, nil, &sel, 0); err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	if sel.Cancelled || sel.Rect.Empty() {
		return Outcome{Cancelled: true}, w.cancel(ctx)
	}

	if err := w.to(ctx, PhaseGeometryTransform); err != nil {
		return Outcome{}, err
	}
	device, raw, err := o.deviceCapture(ctx, tab.ID, sel.Rect)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}

	if err := w.to(ctx, PhaseAwaitingRenderer); err != nil {
		return Outcome{}, err
	}
	cropped, err := o.crop(ctx, device, raw)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}

	p := o.imagePayload(ctx, tab, cropped, firstNonEmpty(pageURL, tab.URL))
	noteID, err := o.post(ctx, w, clip.Clippings, p, n)
	return Outcome{NoteID: noteID}, err
}

// deviceCapture scales sel into raster pixels and captures the viewport.
func (o *Orchestrator) deviceCapture(ctx context.Context, tabID int, sel clip.Rect) (clip.Rect, string, error) {
	zoom, err := o.tabs.Zoom(ctx, tabID)
	if err != nil {
		return clip.Rect{}, "", fmt.Errorf("orchestrator: zoom: %w", err)
	}
	var ratio envelope.PixelRatioReply
	if err := o.ask(ctx, tabID, envelope.GetDevicePixelRatio, nil, &ratio, o.scraperTimeout); err != nil {
		return clip.Rect{}, "", err
	}
	raw, err := o.tabs.CaptureVisible(ctx, tabID)
	if err != nil {
		return clip.Rect{}, "", fmt.Errorf("orchestrator: capture visible tab: %w", err)
	}
	device := clip.DeviceRect(sel, zoom, ratio.Ratio)
	o.logger.DebugContext(ctx, "orchestrator: device rectangle",
		"selection", sel, "zoom", zoom, "ratio", ratio.Ratio, "device", device)
	return device, raw, nil
}

// CaptureWholeScreenshot clips the visible viewport of the active tab.
// Content below the fold is not captured.
func (o *Orchestrator) CaptureWholeScreenshot(ctx context.Context, pageURL string) (Outcome, error) {
	w := o.begin(ctx, KindWholeScreenshot)
	n := notice{key: "saved_screenshot"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	raw, err := o.tabs.CaptureVisible(ctx, tab.ID)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, fmt.Errorf("orchestrator: capture visible tab: %w", err))
	}
	p := o.imagePayload(ctx, tab, raw, firstNonEmpty(pageURL, tab.URL))
	noteID, err := o.post(ctx, w, clip.Clippings, p, n)
	return Outcome{NoteID: noteID}, err
}

// CaptureWholePage clips the readable article of the active tab as a new
// note. An empty pageURL keeps the URL the page context reported.
func (o *Orchestrator) CaptureWholePage(ctx context.Context, pageURL string) (Outcome, error) {
	w := o.begin(ctx, KindPage)
	n := notice{key: "saved_page", failKey: "save_page_failed"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	if err := w.to(ctx, PhaseAwaitingScraper); err != nil {
		return Outcome{}, err
	}
	var page envelope.PageReply
	if err := o.ask(ctx, tab.ID, envelope.SavePage, nil, &page, o.scraperTimeout); err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	p := page.Payload
	o.resolver.Resolve(ctx, p.Images)
	p.ClipType = clip.ClipPage
	p.Labels = pageLabels(page.PublishedTime, page.ModifiedTime)
	if pageURL != "" {
		p.PageURL = pageURL
	}

	noteID, err := o.post(ctx, w, clip.Notes, &p, n)
	return Outcome{NoteID: noteID}, err
}

// CaptureTabs files the window's tabs as one list note and returns their
// ids so the caller may close them.
func (o *Orchestrator) CaptureTabs(ctx context.Context) (Outcome, error) {
	w := o.begin(ctx, KindTabs)
	n := notice{key: "saved_tabs"}
	tabs, err := o.tabs.List(ctx)
	if err == nil && len(tabs) == 0 {
		err = clip.ErrNoActiveTab
	}
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}

	p := o.tabsPayload(tabs)
	ids := make([]int, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	n.args = []any{"count", len(tabs)}
	n.tabIDs = ids

	noteID, err := o.post(ctx, w, clip.Notes, p, n)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{NoteID: noteID, TabIDs: ids}, nil
}

// CaptureLinkNote files a note about the active tab. A blank title falls
// back to the tab's title.
func (o *Orchestrator) CaptureLinkNote(ctx context.Context, title, content string) (Outcome, error) {
	w := o.begin(ctx, KindLinkNote)
	n := notice{key: "saved_link_note"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	if strings.TrimSpace(title) == "" {
		title = tab.Title
	}
	p := &clip.Payload{Title: title, Content: content, ClipType: clip.ClipNote, PageURL: tab.URL}
	noteID, err := o.post(ctx, w, clip.Notes, p, n)
	return Outcome{NoteID: noteID}, err
}

// CaptureImage clips one image, filed under the active tab's title.
func (o *Orchestrator) CaptureImage(ctx context.Context, srcURL, pageURL string) (Outcome, error) {
	w := o.begin(ctx, KindImage)
	n := notice{key: "saved_image"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	p := o.imagePayload(ctx, tab, srcURL, firstNonEmpty(pageURL, tab.URL))
	noteID, err := o.post(ctx, w, clip.Clippings, p, n)
	return Outcome{NoteID: noteID}, err
}

// CaptureLink clips one link. An empty text shows the URL.
func (o *Orchestrator) CaptureLink(ctx context.Context, linkURL, text, pageURL string) (Outcome, error) {
	w := o.begin(ctx, KindLink)
	n := notice{key: "saved_link"}
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return Outcome{}, o.failed(ctx, w, n, err)
	}
	text = firstNonEmpty(text, linkURL)
	p := &clip.Payload{
		Title:   tab.Title,
		Content: fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(linkURL), html.EscapeString(text)),
		PageURL: firstNonEmpty(pageURL, tab.URL),
	}
	noteID, err := o.post(ctx, w, clip.Clippings, p, n)
	return Outcome{NoteID: noteID}, err
}

// imagePayload wraps src as the single image of a clipping. Resolution
// failures are swallowed: the note keeps a broken image.
func (o *Orchestrator) imagePayload(ctx context.Context, tab clip.Tab, src, pageURL string) *clip.Payload {
	img := clip.NewImageRef(o.newImageID(), src)
	if err := o.resolver.ResolveOne(ctx, img); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: image not resolved", "src", truncate(src, 80), "error", err)
	}
	return &clip.Payload{
		Title:   tab.Title,
		Content: fmt.Sprintf(`<img src="%s">`, img.ID),
		Images:  []*clip.ImageRef{img},
		PageURL: pageURL,
	}
}

// post files p, finishes w and shows the notice. The post itself is not
// cancelled with ctx once it has begun.
func (o *Orchestrator) post(ctx context.Context, w *workflow, collection clip.Collection, p *clip.Payload, n notice) (string, error) {
	if err := w.to(ctx, PhaseAwaitingService); err != nil {
		return "", err
	}
	w.page(ctx, p.PageURL)

	ctx = context.WithoutCancel(ctx)
	noteID, err := o.svc.Post(ctx, collection, p)
	if err != nil {
		return "", o.failed(ctx, w, n, err)
	}
	if err := w.done(ctx, noteID); err != nil {
		return "", err
	}
	if noteID == "" {
		o.logger.InfoContext(ctx, "orchestrator: no response from note service", "kind", w.kind)
		return "", nil
	}
	attrs := append(kit.LogAttrs(ctx),
		slog.String("kind", w.kind), slog.String("note", noteID), slog.Int("images", len(p.Images)))
	o.logger.LogAttrs(ctx, slog.LevelInfo, "orchestrator: captured", attrs...)
	o.toast(ctx, o.tr.T(n.key, n.args...), noteID, n.tabIDs)
	return noteID, nil
}

// failed moves w to Failed and tells the user why.
func (o *Orchestrator) failed(ctx context.Context, w *workflow, n notice, cause error) error {
	err := w.fail(ctx, cause)
	key := firstNonEmpty(n.failKey, "save_failed")
	o.toast(context.WithoutCancel(ctx), o.tr.T(key, "error", cause.Error()), "", nil)
	return err
}

// pageLabels derives date labels (YYYY-MM-DD, UTC) from document metadata.
func pageLabels(published, modified string) map[string]string {
	labels := make(map[string]string, 2)
	if d, ok := dateLabel(published); ok {
		labels["publishedDate"] = d
	}
	if d, ok := dateLabel(modified); ok {
		labels["modifiedDate"] = d
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

func dateLabel(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02"), true
		}
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
