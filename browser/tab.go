package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/scraper"
)

// NavigateTimeout bounds page loads started by Create.
const NavigateTimeout = 30 * time.Second

// Tab is a registered Chrome page and the scraper serving it.
type Tab struct {
	ID      int
	Page    *rod.Page
	scraper *scraper.Scraper
	stop    context.CancelFunc
	router  *rod.HijackRouter
}

// release stops the tab's event watchers and detaches its scraper.
func (t *Tab) release() {
	if t.stop != nil {
		t.stop()
	}
	if t.router != nil {
		_ = t.router.Stop()
	}
	t.scraper.Close()
}

func (t *Tab) info(ctx context.Context) (clip.Tab, error) {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return clip.Tab{}, fmt.Errorf("browser: tab %d info: %w", t.ID, err)
	}
	return clip.Tab{ID: t.ID, URL: info.URL, Title: info.Title}, nil
}

func (t *Tab) navigate(ctx context.Context, pageURL string, logger *slog.Logger) error {
	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// zoom estimates the browser zoom from the ratio of the window's outer and
// inner widths. Chrome exposes no zoom query over CDP.
func (t *Tab) zoom(ctx context.Context) (float64, error) {
	res, err := t.Page.Context(ctx).Eval(`() => {
		const inner = window.innerWidth, outer = window.outerWidth;
		return inner > 0 && outer > 0 ? outer / inner : 1;
	}`)
	if err != nil {
		return 0, fmt.Errorf("browser: tab %d zoom: %w", t.ID, err)
	}
	return normalizeZoom(res.Value.Num()), nil
}

// Chrome's zoom levels run from 25% to 500%.
func normalizeZoom(z float64) float64 {
	if math.IsNaN(z) || z < 0.25 || z > 5 {
		return 1
	}
	z = math.Round(z*100) / 100
	// Headless windows report outer == inner.
	if math.Abs(z-1) < 0.02 {
		return 1
	}
	return z
}
