package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handler serves one envelope and returns the reply.
type Handler func(ctx context.Context, env Envelope) (Envelope, error)

// Mux is a dispatch table from Name to Handler. Thread-safe.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Name]Handler
	mw       Middleware
	logger   *slog.Logger
}

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets a custom logger for the mux.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.logger = l }
}

// WithMiddleware wraps every registered handler.
func WithMiddleware(mws ...Middleware) Option {
	return func(m *Mux) { m.mw = Chain(mws...) }
}

// NewMux creates an empty dispatch table.
func NewMux(opts ...Option) *Mux {
	m := &Mux{
		handlers: make(map[Name]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// HandleFunc registers h for name. Registering an unknown or already
// registered name panics: both are programming errors.
func (m *Mux) HandleFunc(name Name, h Handler) {
	if !name.Known() {
		panic(fmt.Sprintf("envelope: register unknown name %q", name))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.handlers[name]; dup {
		panic(fmt.Sprintf("envelope: duplicate handler for %q", name))
	}
	if m.mw != nil {
		h = m.mw(h)
	}
	m.handlers[name] = h
}

// Handle registers a typed handler: the request body is decoded into Req
// and the returned Resp becomes the reply body.
func Handle[Req, Resp any](m *Mux, name Name, fn func(ctx context.Context, req Req) (Resp, error)) {
	m.HandleFunc(name, func(ctx context.Context, env Envelope) (Envelope, error) {
		var req Req
		if err := env.Decode(&req); err != nil {
			return Envelope{}, err
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return Envelope{}, err
		}
		return Reply(env, resp)
	})
}

// Dispatch routes env to its handler.
func (m *Mux) Dispatch(ctx context.Context, env Envelope) (Envelope, error) {
	m.mu.RLock()
	h, ok := m.handlers[env.Name]
	m.mu.RUnlock()
	if !ok {
		return Envelope{}, &ErrUnhandled{Name: env.Name}
	}
	return h(ctx, env)
}

// Has reports whether name has a handler.
func (m *Mux) Has(name Name) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[name]
	return ok
}

// Names returns the registered names, sorted.
func (m *Mux) Names() []Name {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]Name, 0, len(m.handlers))
	for n := range m.handlers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate checks that every name a context consumes has a handler.
// Contexts call it once at startup so a missing handler fails fast instead
// of surfacing as an unhandled message at runtime.
func (m *Mux) Validate(consumed ...Name) error {
	var missing []string
	for _, n := range consumed {
		if !m.Has(n) {
			missing = append(missing, string(n))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("envelope: no handler for %s", strings.Join(missing, ", "))
	}
	return nil
}
