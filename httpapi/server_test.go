package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/notesvc"
	"github.com/hazyhaar/webclip/orchestrator"
	"github.com/hazyhaar/webclip/settings"
)

type fakeClipper struct {
	mu    sync.Mutex
	calls []string
	args  []string
	err   error
	out   orchestrator.Outcome
}

func (f *fakeClipper) record(name string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.args = append(f.args, args...)
}

func (f *fakeClipper) CaptureSelection(context.Context) (orchestrator.Outcome, error) {
	f.record("selection")
	return f.out, f.err
}

func (f *fakeClipper) CaptureWholePage(_ context.Context, pageURL string) (orchestrator.Outcome, error) {
	f.record("page", pageURL)
	return f.out, f.err
}

func (f *fakeClipper) CaptureTabs(context.Context) (orchestrator.Outcome, error) {
	f.record("tabs")
	return f.out, f.err
}

func (f *fakeClipper) CaptureCroppedScreenshot(_ context.Context, pageURL string) (orchestrator.Outcome, error) {
	f.record("cropped", pageURL)
	return f.out, f.err
}

func (f *fakeClipper) CaptureWholeScreenshot(_ context.Context, pageURL string) (orchestrator.Outcome, error) {
	f.record("whole", pageURL)
	return f.out, f.err
}

func (f *fakeClipper) CaptureLinkNote(_ context.Context, title, content string) (orchestrator.Outcome, error) {
	f.record("link-note", title, content)
	return f.out, f.err
}

func (f *fakeClipper) CaptureImage(_ context.Context, srcURL, pageURL string) (orchestrator.Outcome, error) {
	f.record("image", srcURL, pageURL)
	return f.out, f.err
}

func (f *fakeClipper) CaptureLink(_ context.Context, linkURL, text, pageURL string) (orchestrator.Outcome, error) {
	f.record("link", linkURL, text, pageURL)
	return f.out, f.err
}

func (f *fakeClipper) OpenNote(_ context.Context, noteID string) error {
	f.record("open", noteID)
	return f.err
}

func (f *fakeClipper) CloseTabs(context.Context, []int) error {
	f.record("close")
	return f.err
}

func (f *fakeClipper) TriggerSearch(context.Context) error {
	f.record("trigger")
	return f.err
}

func (f *fakeClipper) SendSearchStatus() error {
	f.record("status")
	return f.err
}

func (f *fakeClipper) SearchNoteByURL(context.Context) error {
	f.record("note-url")
	return f.err
}

type fakeSettings struct {
	mu       sync.Mutex
	values   map[string]string
	token    string
	cleared  bool
	patterns []string
	recent   []settings.Capture
	limit    int
}

func (f *fakeSettings) All(context.Context) (map[string]string, error) { return f.values, nil }

func (f *fakeSettings) SetServer(_ context.Context, serverURL, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[settings.KeyServerURL] = serverURL
	f.token = token
	return nil
}

func (f *fakeSettings) ClearServer(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeSettings) Patterns(context.Context) ([]string, error) { return f.patterns, nil }

func (f *fakeSettings) SetPatterns(_ context.Context, patterns []string) error {
	f.patterns = patterns
	return nil
}

func (f *fakeSettings) Recent(_ context.Context, limit int) ([]settings.Capture, error) {
	f.limit = limit
	return f.recent, nil
}

type fakeAuth struct {
	password string
}

func (f fakeAuth) Login(_ context.Context, _, password string) (string, error) {
	if password != f.password {
		return "", notesvc.ErrBadCredentials
	}
	return "tok-123", nil
}

type fixture struct {
	clipper  *fakeClipper
	settings *fakeSettings
	bus      *bus.Bus
	srv      *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clipper:  &fakeClipper{out: orchestrator.Outcome{NoteID: "n1"}},
		settings: &fakeSettings{values: map[string]string{}},
		bus:      bus.New(),
	}
	f.srv = New(f.clipper, f.settings, fakeAuth{password: "secret"}, f.bus, opts...)
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fakeClipper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestCaptureRoutes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path, body, call string
	}{
		{"/api/capture/selection", "", "selection"},
		{"/api/capture/page", `{"pageUrl":"https://e.com"}`, "page"},
		{"/api/capture/page", "", "page"},
		{"/api/capture/tabs", "", "tabs"},
		{"/api/capture/screenshot/cropped", "", "cropped"},
		{"/api/capture/screenshot/whole", `{}`, "whole"},
		{"/api/capture/link-note", `{"text":"Title. body"}`, "link-note"},
		{"/api/capture/image", `{"srcUrl":"https://e.com/a.png"}`, "image"},
		{"/api/capture/link", `{"linkUrl":"https://e.com/"}`, "link"},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodPost, tt.path, tt.body)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", tt.path, rec.Body.String())
		var out orchestrator.Outcome
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		assert.Equal(t, "n1", out.NoteID, tt.path)
		assert.Equal(t, tt.call, f.clipper.calls[len(f.clipper.calls)-1], tt.path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	}
	assert.Contains(t, f.clipper.args, "https://e.com")
	assert.Contains(t, f.clipper.args, "Title.")
	assert.Contains(t, f.clipper.args, "<p>body</p>")
}

func TestCapture_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/capture/image", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/capture/link", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.clipper.calls)
}

func TestCapture_ErrorStatus(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		err  error
		code int
	}{
		{clip.ErrNoActiveTab, http.StatusConflict},
		{clip.ErrScraperUnreachable, http.StatusBadGateway},
		{&clip.ServiceError{Status: 500}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f.clipper.err = tt.err
		rec := f.do(t, http.MethodPost, "/api/capture/selection", "")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, tt.err.Error(), body["error"])
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/notes/abc/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"open"}, f.clipper.calls)
	assert.Equal(t, []string{"abc"}, f.clipper.args)

	rec = f.do(t, http.MethodPost, "/api/tabs/close", `{"tabIds":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res envelope.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, []int{1, 2}, res.TabIDs)

	for _, p := range []string{"trigger", "status", "note-url"} {
		rec = f.do(t, http.MethodPost, "/api/search/"+p, "")
		require.Equal(t, http.StatusOK, rec.Code, p)
	}
	assert.Equal(t, []string{"open", "close", "trigger", "status", "note-url"}, f.clipper.calls)
}

func TestSettings_Patterns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings/patterns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"patterns":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/settings/patterns", `{"patterns":["*.example.com/*","  ",""]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"*.example.com/*"}, f.settings.patterns)

	rec = f.do(t, http.MethodPut, "/api/settings/patterns", `{"patterns":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings_LoginAndClear(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/settings/login", `{"serverUrl":"https://notes.example.com/","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/settings/login", `{"serverUrl":"file:///etc","password":"secret"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/settings/login", `{"serverUrl":"https://notes.example.com/","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tok-123", f.settings.token)

	rec = f.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	assert.NotEmpty(t, all[settings.KeyServerURL])

	rec = f.do(t, http.MethodDelete, "/api/settings/server", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.settings.cleared)
}

func TestRecentCaptures(t *testing.T) {
	f := newFixture(t)
	f.settings.recent = []settings.Capture{{ID: "c1", Kind: "page", Phase: "done"}}

	rec := f.do(t, http.MethodGet, "/api/captures?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []settings.Capture
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, 5, f.settings.limit)

	rec = f.do(t, http.MethodGet, "/api/captures?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	fromPopup := make(chan envelope.Envelope, 1)
	remove := f.bus.Listen(orchestrator.Origin, func(env envelope.Envelope) { fromPopup <- env })
	defer remove()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Popup to bus.
	require.NoError(t, conn.WriteJSON(envelope.MustNew(envelope.TriggerSearch, nil)))
	select {
	case env := <-fromPopup:
		assert.Equal(t, envelope.TriggerSearch, env.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("popup envelope never broadcast")
	}

	// Bus to popup.
	require.NoError(t, f.bus.Broadcast(orchestrator.Origin,
		envelope.MustNew(envelope.SearchStatus, envelope.SearchStatusBody{Status: "not-found"})))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, envelope.SearchStatus, env.Name)
	var st envelope.SearchStatusBody
	require.NoError(t, env.Decode(&st))
	assert.Equal(t, "not-found", st.Status)
}

const popupOrigin = "chrome-extension://abcdefghijklmnop"

func TestOrigin_ForeignPageRefused(t *testing.T) {
	f := newFixture(t, WithAllowedOrigins(popupOrigin+"/"))

	req := httptest.NewRequest(http.MethodPost, "/api/tabs/close", strings.NewReader(`{"tabIds":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.clipper.callCount())

	req = httptest.NewRequest(http.MethodPost, "/api/tabs/close", strings.NewReader(`{"tabIds":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "Chrome-Extension://abcdefghijklmnop")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.clipper.callCount())
}

func TestRequireJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tabs/close", strings.NewReader(`{"tabIds":[1,2]}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, f.clipper.callCount())

	req = httptest.NewRequest(http.MethodPost, "/api/capture/page", strings.NewReader(`{"pageUrl":"https://example.com/"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/search/trigger", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvents_ForeignOriginRefused(t *testing.T) {
	f := newFixture(t, WithAllowedOrigins(popupOrigin))
	ts := httptest.NewServer(f.srv)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"

	fromPage := make(chan envelope.Envelope, 1)
	defer f.bus.Listen(orchestrator.Origin, func(env envelope.Envelope) { fromPage <- env })()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {popupOrigin}})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(envelope.MustNew(envelope.TriggerSearch, nil)))
	select {
	case env := <-fromPage:
		assert.Equal(t, envelope.TriggerSearch, env.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("popup envelope never broadcast")
	}
}
