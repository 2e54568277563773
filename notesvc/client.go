// Package notesvc talks to the note service's clipper API. The service is
// either the desktop app on a loopback port or a server reached with an
// auth token; Search finds out which, and every call goes to the one found.
package notesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/horosafe"
)

// ProtocolVersion is the clipper protocol this client speaks. Only the
// major part must match the service's.
const ProtocolVersion = "1.0"

// DefaultDesktopPort is where the desktop app listens unless configured.
const DefaultDesktopPort = 37840

var (
	// ErrBadCredentials means the server refused the login password.
	ErrBadCredentials = errors.New("notesvc: incorrect credentials")
	// ErrNotFound means neither the desktop app nor a server answered.
	ErrNotFound = errors.New("notesvc: note service not found")
)

// Settings is the read-only configuration the client needs.
type Settings interface {
	ServerURL(ctx context.Context) (string, error)
	AuthToken(ctx context.Context) (string, error)
	DesktopPort(ctx context.Context) (int, error)
}

// Client is a note service client. Safe for concurrent use.
type Client struct {
	settings Settings
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status
	target *target
}

type target struct {
	base  string // ends with /api/clipper
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock replaces time.Now for the local-time header.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// New creates a Client reading its configuration from s.
func New(s Settings, opts ...Option) *Client {
	c := &Client{
		settings: s,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
		now:      time.Now,
		status:   Status{State: StateSearching},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CallService sends method path (relative to the clipper API) with body as
// JSON and decodes the response into out. It reports false when the
// service answered with an empty body: there is nothing to report, which
// is not an error. Transport failures and non-2xx statuses are returned as
// *clip.ServiceError.
func (c *Client) CallService(ctx context.Context, method, path string, body, out any) (bool, error) {
	t, err := c.connection(ctx)
	if err != nil {
		return false, &clip.ServiceError{Cause: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("notesvc: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return false, fmt.Errorf("notesvc: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trilium-local-now-datetime", c.now().Format("2006-01-02 15:04:05.000Z07:00"))
	if t.token != "" {
		req.Header.Set("Authorization", t.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.forget()
		return false, &clip.ServiceError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return false, &clip.ServiceError{Status: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "notesvc: call rejected",
			"method", method, "path", path, "status", resp.StatusCode)
		return false, &clip.ServiceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return len(bytes.TrimSpace(data)) > 0, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, &clip.ServiceError{Status: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return true, nil
}

// Post files payload in collection and returns the new note's id. An empty
// id with a nil error means the service gave no response.
func (c *Client) Post(ctx context.Context, collection clip.Collection, payload any) (string, error) {
	var out struct {
		NoteID string `json:"noteId"`
	}
	if _, err := c.CallService(ctx, http.MethodPost, string(collection), payload, &out); err != nil {
		return "", err
	}
	return out.NoteID, nil
}

// Open asks the service to show a note. It returns "ok", or
// "open-in-browser" when the caller must open the note itself.
func (c *Client) Open(ctx context.Context, noteID string) (string, error) {
	if err := horosafe.ValidateIdentifier(noteID); err != nil {
		return "", err
	}
	var out struct {
		Result string `json:"result"`
	}
	if _, err := c.CallService(ctx, http.MethodPost, "open/"+noteID, nil, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// NotesByURL returns the id of a note already clipped from pageURL, or "".
func (c *Client) NotesByURL(ctx context.Context, pageURL string) (string, error) {
	var out struct {
		NoteID *string `json:"noteId"`
	}
	if _, err := c.CallService(ctx, http.MethodGet, "notes-by-url/"+url.PathEscape(pageURL), nil, &out); err != nil {
		return "", err
	}
	if out.NoteID == nil {
		return "", nil
	}
	return *out.NoteID, nil
}

// Login exchanges a password for an auth token on serverURL.
func (c *Client) Login(ctx context.Context, serverURL, password string) (string, error) {
	base, err := horosafe.ValidateServiceURL(serverURL)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(map[string]string{"password": password})
	if err != nil {
		return "", fmt.Errorf("notesvc: marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/login/token", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("notesvc: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &clip.ServiceError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return "", &clip.ServiceError{Status: resp.StatusCode, Cause: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", ErrBadCredentials
	case resp.StatusCode != http.StatusOK:
		return "", &clip.ServiceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Token == "" {
		return "", &clip.ServiceError{Status: resp.StatusCode, Body: "no token in login response"}
	}
	c.forget()
	return out.Token, nil
}

// ServerURL returns the configured server URL without a trailing slash.
func (c *Client) ServerURL(ctx context.Context) (string, error) {
	raw, err := c.settings.ServerURL(ctx)
	if err != nil || raw == "" {
		return "", err
	}
	return horosafe.ValidateServiceURL(raw)
}

func (c *Client) connection(ctx context.Context) (*target, error) {
	c.mu.Lock()
	t := c.target
	c.mu.Unlock()
	if t != nil {
		return t, nil
	}
	if st := c.Search(ctx); !st.Found() {
		return nil, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return nil, ErrNotFound
	}
	return c.target, nil
}

// forget drops the cached connection so the next call searches again.
func (c *Client) forget() {
	c.mu.Lock()
	c.target = nil
	c.status = Status{State: StateSearching}
	c.mu.Unlock()
}
