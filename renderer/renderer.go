// Package renderer is the offscreen rendering context. It owns no
// privileged capability: it only hears runtime broadcasts, crops rasters
// on request and broadcasts the result back under the request's
// correlation token.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/envelope"
)

// Origin is the bus origin of the renderer context.
const Origin = "offscreen"

// ErrSurfaceExists is returned by CreateSurface while a surface is resident.
var ErrSurfaceExists = errors.New("renderer: only a single offscreen surface may be created")

// Host supervises the offscreen surface. At most one surface is resident.
type Host struct {
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	surface *surface
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a Host publishing on b.
func NewHost(b *bus.Bus, opts ...Option) *Host {
	h := &Host{bus: b, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// CreateSurface starts the offscreen surface. A second call while one is
// resident returns ErrSurfaceExists and leaves the first untouched.
func (h *Host) CreateSurface() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.surface != nil {
		return ErrSurfaceExists
	}
	s, err := newSurface(h.bus, h.logger)
	if err != nil {
		return fmt.Errorf("renderer: create surface: %w", err)
	}
	h.surface = s
	h.logger.Info("renderer: surface created")
	return nil
}

// Resident reports whether a surface is alive.
func (h *Host) Resident() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surface != nil
}

// Close tears the surface down.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.surface != nil {
		h.surface.stop()
		h.surface = nil
	}
}

type surface struct {
	bus    *bus.Bus
	mux    *envelope.Mux
	remove func()
	logger *slog.Logger
}

func newSurface(b *bus.Bus, logger *slog.Logger) (*surface, error) {
	s := &surface{
		bus:    b,
		logger: logger,
		mux: envelope.NewMux(
			envelope.WithLogger(logger),
			envelope.WithMiddleware(envelope.Recovery(logger), envelope.Logging(logger)),
		),
	}
	envelope.Handle(s.mux, envelope.CropImage, func(_ context.Context, req envelope.CropRequest) (envelope.CropResult, error) {
		out, err := Crop(req.DataURL, req.Rect)
		if err != nil {
			return envelope.CropResult{}, err
		}
		return envelope.CropResult{DataURL: out}, nil
	})
	if err := s.mux.Validate(envelope.CropImage); err != nil {
		return nil, err
	}
	s.remove = b.Listen(Origin, s.receive)
	return s, nil
}

// receive serves broadcasts addressed to the renderer and ignores the
// rest. Requests without a correlation token cannot be answered.
func (s *surface) receive(env envelope.Envelope) {
	if !s.mux.Has(env.Name) {
		return
	}
	if env.CorrelationID == "" {
		s.logger.Warn("renderer: uncorrelated request dropped", "name", env.Name)
		return
	}
	resp, err := s.mux.Dispatch(context.Background(), env)
	if err != nil {
		resp = envelope.ErrorReply(env, err)
	}
	resp.Name = envelope.CropImageResult
	resp.CorrelationID = env.CorrelationID
	if err := s.bus.Broadcast(Origin, resp); err != nil {
		s.logger.Warn("renderer: broadcast result", "id", env.CorrelationID, "error", err)
	}
}

func (s *surface) stop() {
	s.remove()
}
