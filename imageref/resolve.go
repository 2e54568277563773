package imageref

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/horosafe"
)

// DefaultCacheSize is the number of fetched images kept across captures.
const DefaultCacheSize = 128

// Resolver fills in ImageRef data. One Resolver belongs to one orchestrator
// context; its cache lives and dies with it.
type Resolver struct {
	client   *http.Client
	cache    *lru.Cache[string, string]
	maxBytes int64
	ua       string
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithCacheSize sets how many fetched images are remembered. Zero disables
// the cache.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n <= 0 {
			r.cache = nil
			return
		}
		c, err := lru.New[string, string](n)
		if err == nil {
			r.cache = c
		}
	}
}

// WithMaxBytes caps a single image download.
func WithMaxBytes(n int64) Option {
	return func(r *Resolver) { r.maxBytes = n }
}

// WithUserAgent sets the User-Agent header of image requests.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.ua = ua }
}

// NewResolver creates a Resolver with sensible defaults.
func NewResolver(opts ...Option) *Resolver {
	cache, _ := lru.New[string, string](DefaultCacheSize)
	r := &Resolver{
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		maxBytes: horosafe.MaxImageBody,
		ua:       "Mozilla/5.0 (compatible; webclip/1.0)",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve resolves every unresolved reference, one at a time, in order.
// Failures are logged and leave DataURL empty; they never abort the batch.
func (r *Resolver) Resolve(ctx context.Context, images []*clip.ImageRef) {
	for _, img := range images {
		if ctx.Err() != nil {
			return
		}
		if img.Resolved() {
			continue
		}
		if err := r.ResolveOne(ctx, img); err != nil {
			r.logger.WarnContext(ctx, "imageref: cannot fetch image",
				"src", img.OriginalSrc, "error", err)
		}
	}
}

// ResolveOne resolves a single reference. Data URIs are copied as-is and
// renamed "inline.<ext>"; other sources are fetched and base64-encoded.
// A fetch failure is returned wrapped in clip.ErrResourceFetch.
func (r *Resolver) ResolveOne(ctx context.Context, img *clip.ImageRef) error {
	src := img.OriginalSrc
	if src == "" {
		src = img.Src
	}
	if clip.IsDataURI(src) {
		img.DataURL = src
		img.Src = clip.InlineName(src)
		return nil
	}

	if r.cache != nil {
		if data, ok := r.cache.Get(src); ok {
			img.DataURL = data
			return nil
		}
	}

	data, err := r.fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", clip.ErrResourceFetch, src, err)
	}
	img.DataURL = data
	if r.cache != nil {
		r.cache.Add(src, data)
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", r.ua)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, r.maxBytes)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return EncodeDataURI(resp.Header.Get("Content-Type"), body), nil
}

// EncodeDataURI encodes body as a base64 data URI. The media type comes
// from contentType when it parses, otherwise it is sniffed.
func EncodeDataURI(contentType string, body []byte) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = strings.Cut(http.DetectContentType(body), ";")
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body)
}
