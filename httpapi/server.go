// Package httpapi is the popup surface: a chi router over the
// orchestrator's captures and runtime commands, the settings store, and a
// websocket stream of the broadcasts popups listen to.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/horosafe"
	"github.com/hazyhaar/webclip/kit"
	"github.com/hazyhaar/webclip/notesvc"
	"github.com/hazyhaar/webclip/orchestrator"
	"github.com/hazyhaar/webclip/settings"
)

// Origin is the bus origin of popups connected over the event stream.
const Origin = "popup"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Clipper is the orchestrator as the popup sees it.
type Clipper interface {
	CaptureSelection(ctx context.Context) (orchestrator.Outcome, error)
	CaptureWholePage(ctx context.Context, pageURL string) (orchestrator.Outcome, error)
	CaptureTabs(ctx context.Context) (orchestrator.Outcome, error)
	CaptureCroppedScreenshot(ctx context.Context, pageURL string) (orchestrator.Outcome, error)
	CaptureWholeScreenshot(ctx context.Context, pageURL string) (orchestrator.Outcome, error)
	CaptureLinkNote(ctx context.Context, title, content string) (orchestrator.Outcome, error)
	CaptureImage(ctx context.Context, srcURL, pageURL string) (orchestrator.Outcome, error)
	CaptureLink(ctx context.Context, linkURL, text, pageURL string) (orchestrator.Outcome, error)
	OpenNote(ctx context.Context, noteID string) error
	CloseTabs(ctx context.Context, tabIDs []int) error
	TriggerSearch(ctx context.Context) error
	SendSearchStatus() error
	SearchNoteByURL(ctx context.Context) error
}

// Settings is the persisted extension storage.
type Settings interface {
	All(ctx context.Context) (map[string]string, error)
	SetServer(ctx context.Context, serverURL, token string) error
	ClearServer(ctx context.Context) error
	Patterns(ctx context.Context) ([]string, error)
	SetPatterns(ctx context.Context, patterns []string) error
	Recent(ctx context.Context, limit int) ([]settings.Capture, error)
}

// Authenticator exchanges a password for a note service token.
type Authenticator interface {
	Login(ctx context.Context, serverURL, password string) (string, error)
}

// Server serves the popup API.
type Server struct {
	clipper  Clipper
	settings Settings
	auth     Authenticator
	bus      *bus.Bus
	logger   *slog.Logger
	router   chi.Router
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins lists the browser origins allowed to call the API,
// e.g. "chrome-extension://<id>". Requests without an Origin header are
// always accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o = normalizeOrigin(o); o != "" {
				s.origins[o] = struct{}{}
			}
		}
	}
}

// New builds the router.
func New(c Clipper, st Settings, auth Authenticator, b *bus.Bus, opts ...Option) *Server {
	s := &Server{
		clipper:  c,
		settings: st,
		auth:     auth,
		bus:      b,
		logger:   slog.Default(),
		origins:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(securityHeaders, s.requestContext, s.recoverer, s.checkOrigin, requireJSON, maxBody(maxBodyBytes))

	r.Route("/api/capture", func(r chi.Router) {
		r.Post("/selection", s.handleCapture(func(ctx context.Context, _ *http.Request) (orchestrator.Outcome, error) {
			return s.clipper.CaptureSelection(ctx)
		}))
		r.Post("/page", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req envelope.PageRequest
			if err := decodeOptional(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			return s.clipper.CaptureWholePage(ctx, req.PageURL)
		}))
		r.Post("/tabs", s.handleCapture(func(ctx context.Context, _ *http.Request) (orchestrator.Outcome, error) {
			return s.clipper.CaptureTabs(ctx)
		}))
		r.Post("/screenshot/cropped", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req envelope.PageRequest
			if err := decodeOptional(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			return s.clipper.CaptureCroppedScreenshot(ctx, req.PageURL)
		}))
		r.Post("/screenshot/whole", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req envelope.PageRequest
			if err := decodeOptional(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			return s.clipper.CaptureWholeScreenshot(ctx, req.PageURL)
		}))
		r.Post("/link-note", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req linkNoteRequest
			if err := decode(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			title, content := orchestrator.SplitLinkNote(req.Text, req.KeepTitle)
			return s.clipper.CaptureLinkNote(ctx, title, content)
		}))
		r.Post("/image", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req envelope.ImageRequest
			if err := decode(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			if req.SrcURL == "" {
				return orchestrator.Outcome{}, errBadRequest("srcUrl is required")
			}
			return s.clipper.CaptureImage(ctx, req.SrcURL, req.PageURL)
		}))
		r.Post("/link", s.handleCapture(func(ctx context.Context, r *http.Request) (orchestrator.Outcome, error) {
			var req envelope.LinkRequest
			if err := decode(r, &req); err != nil {
				return orchestrator.Outcome{}, err
			}
			if req.LinkURL == "" {
				return orchestrator.Outcome{}, errBadRequest("linkUrl is required")
			}
			return s.clipper.CaptureLink(ctx, req.LinkURL, req.LinkText, req.PageURL)
		}))
	})

	r.Post("/api/notes/{id}/open", s.handleOpenNote)
	r.Post("/api/tabs/close", s.handleCloseTabs)

	r.Route("/api/search", func(r chi.Router) {
		r.Post("/trigger", s.handleCommand(s.clipper.TriggerSearch))
		r.Post("/status", s.handleCommand(func(context.Context) error { return s.clipper.SendSearchStatus() }))
		r.Post("/note-url", s.handleCommand(s.clipper.SearchNoteByURL))
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Post("/login", s.handleLogin)
		r.Delete("/server", s.handleClearServer)
		r.Get("/patterns", s.handleGetPatterns)
		r.Put("/patterns", s.handleSetPatterns)
	})
	r.Get("/api/captures", s.handleRecentCaptures)
	r.Get("/api/events", s.handleEvents)

	s.router = r
}

type linkNoteRequest struct {
	Text      string `json:"text"`
	KeepTitle bool   `json:"keepTitle"`
}

func (s *Server) handleCapture(fn func(context.Context, *http.Request) (orchestrator.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCommand(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope.Result{Success: true})
	}
}

func (s *Server) handleOpenNote(w http.ResponseWriter, r *http.Request) {
	noteID := chi.URLParam(r, "id")
	if err := s.clipper.OpenNote(r.Context(), noteID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope.Result{Success: true, NoteID: noteID})
}

func (s *Server) handleCloseTabs(w http.ResponseWriter, r *http.Request) {
	var req envelope.TabsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.clipper.CloseTabs(r.Context(), req.TabIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope.Result{Success: true, TabIDs: req.TabIDs})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type loginRequest struct {
	ServerURL string `json:"serverUrl"`
	Password  string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	serverURL, err := horosafe.ValidateServiceURL(req.ServerURL)
	if err != nil {
		s.writeError(w, r, errBadRequest(err.Error()))
		return
	}
	token, err := s.auth.Login(r.Context(), serverURL, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.settings.SetServer(r.Context(), serverURL, token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "httpapi: logged in", "server", serverURL)
	writeJSON(w, http.StatusOK, map[string]string{"serverUrl": serverURL})
}

func (s *Server) handleClearServer(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.ClearServer(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type patternsBody struct {
	Patterns []string `json:"patterns"`
}

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.settings.Patterns(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []string{}
	}
	writeJSON(w, http.StatusOK, patternsBody{Patterns: patterns})
}

func (s *Server) handleSetPatterns(w http.ResponseWriter, r *http.Request) {
	var req patternsBody
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kept := make([]string, 0, len(req.Patterns))
	for _, p := range req.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if err := s.settings.SetPatterns(r.Context(), kept); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patternsBody{Patterns: kept})
}

func (s *Server) handleRecentCaptures(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, errBadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, 200)
	}
	captures, err := s.settings.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if captures == nil {
		captures = []settings.Capture{}
	}
	writeJSON(w, http.StatusOK, captures)
}

// --- helpers ---

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errBadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func statusOf(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, clip.ErrNoActiveTab):
		return http.StatusConflict
	case errors.Is(err, notesvc.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, horosafe.ErrUnsafeScheme):
		return http.StatusBadRequest
	case errors.Is(err, clip.ErrScraperUnreachable),
		errors.Is(err, clip.ErrService),
		errors.Is(err, notesvc.ErrNotFound):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		attrs := append(kit.LogAttrs(r.Context()), slog.String("path", r.URL.Path), slog.Any("error", err))
		s.logger.LogAttrs(r.Context(), slog.LevelError, "httpapi: request failed", attrs...)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
