package notesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazyhaar/webclip/horosafe"
)

// Search states, as reported to popups.
const (
	StateSearching       = "searching"
	StateNotFound        = "not-found"
	StateVersionMismatch = "version-mismatch"
	StateFoundDesktop    = "found-desktop"
	StateFoundServer     = "found-server"
)

// Status is the outcome of the last search.
type Status struct {
	State          string `json:"status"`
	URL            string `json:"url,omitempty"`
	Port           int    `json:"port,omitempty"`
	ExtensionMajor int    `json:"extensionMajor,omitempty"`
	ServiceMajor   int    `json:"triliumMajor,omitempty"`
}

// Found reports whether a usable service was found.
func (s Status) Found() bool {
	return s.State == StateFoundDesktop || s.State == StateFoundServer
}

// Handshake is the service's answer to a handshake.
type Handshake struct {
	AppName         string `json:"appName"`
	ProtocolVersion string `json:"protocolVersion"`
}

// Status returns the last search outcome without searching.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Search looks for the desktop app first, then the configured server, and
// remembers what it found for subsequent calls.
func (c *Client) Search(ctx context.Context) Status {
	st, t := c.search(ctx)
	c.mu.Lock()
	c.status = st
	c.target = t
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "notesvc: search finished", "status", st.State, "url", st.URL, "port", st.Port)
	return st
}

func (c *Client) search(ctx context.Context) (Status, *target) {
	mismatch := Status{}

	port, err := c.settings.DesktopPort(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "notesvc: desktop port", "error", err)
	}
	if port > 0 {
		base := "http://127.0.0.1:" + strconv.Itoa(port)
		if hs, err := c.Handshake(ctx, base, ""); err == nil {
			st := classify(hs, Status{State: StateFoundDesktop, Port: port})
			if st.Found() {
				return st, &target{base: base + "/api/clipper"}
			}
			mismatch = st
		}
	}

	server, err := c.ServerURL(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "notesvc: server url", "error", err)
	}
	if server != "" {
		token, err := c.settings.AuthToken(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "notesvc: auth token", "error", err)
		}
		if hs, err := c.Handshake(ctx, server, token); err == nil {
			st := classify(hs, Status{State: StateFoundServer, URL: server})
			if st.Found() {
				return st, &target{base: server + "/api/clipper", token: token}
			}
			mismatch = st
		} else {
			c.logger.DebugContext(ctx, "notesvc: server handshake", "url", server, "error", err)
		}
	}

	if mismatch.State == StateVersionMismatch {
		return mismatch, nil
	}
	return Status{State: StateNotFound}, nil
}

// Handshake asks the clipper API at base who it is.
func (c *Client) Handshake(ctx context.Context, base, token string) (Handshake, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/clipper/handshake", nil)
	if err != nil {
		return Handshake{}, fmt.Errorf("notesvc: new request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Handshake{}, fmt.Errorf("notesvc: handshake: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Handshake{}, fmt.Errorf("notesvc: handshake: status %d", resp.StatusCode)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return Handshake{}, fmt.Errorf("notesvc: handshake: %w", err)
	}
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return Handshake{}, fmt.Errorf("notesvc: handshake: decode: %w", err)
	}
	if hs.AppName != "trilium" {
		return Handshake{}, fmt.Errorf("notesvc: handshake: unexpected app %q", hs.AppName)
	}
	return hs, nil
}

// classify turns a successful handshake into found or version-mismatch.
func classify(hs Handshake, found Status) Status {
	own := major(ProtocolVersion)
	theirs := major(hs.ProtocolVersion)
	if own != theirs {
		return Status{State: StateVersionMismatch, ExtensionMajor: own, ServiceMajor: theirs}
	}
	return found
}

func major(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, _ := strconv.Atoi(head)
	return n
}
