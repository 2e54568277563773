package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/idgen"
)

// ScriptLoader injects a helper script into the page.
type ScriptLoader interface {
	LoadScript(ctx context.Context, file string) error
}

// Libs remembers which helper scripts the current document already has.
// Injected scripts do not survive a navigation, so the owner must Reset it
// whenever the main frame commits a new document.
type Libs struct {
	mu     sync.Mutex
	loaded map[string]struct{}
	loader ScriptLoader
}

// NewLibs creates an empty registry loading through l.
func NewLibs(l ScriptLoader) *Libs {
	return &Libs{loaded: make(map[string]struct{}), loader: l}
}

// Require loads file unless it was loaded before. Concurrent requires of
// the same file load it once.
func (l *Libs) Require(ctx context.Context, file string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.loaded[file]; ok {
		return nil
	}
	if err := l.loader.LoadScript(ctx, file); err != nil {
		return fmt.Errorf("scraper: require %s: %w", file, err)
	}
	l.loaded[file] = struct{}{}
	return nil
}

// Reset forgets every loaded script.
func (l *Libs) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.loaded)
}

// Loaded reports whether file has been loaded.
func (l *Libs) Loaded(file string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[file]
	return ok
}

// BusLoader asks the orchestrator to inject scripts, by correlated
// broadcast.
type BusLoader struct {
	Bus      *bus.Bus
	Origin   string
	TabID    int
	NewToken idgen.Generator
}

// LoadScript implements ScriptLoader.
func (l BusLoader) LoadScript(ctx context.Context, file string) error {
	newToken := l.NewToken
	if newToken == nil {
		newToken = idgen.Token()
	}
	req, err := envelope.New(envelope.LoadScript, envelope.LoadScriptRequest{File: file, TabID: l.TabID})
	if err != nil {
		return err
	}
	resp, err := l.Bus.Call(ctx, l.Origin, req.Correlated(newToken()), envelope.LoadScript)
	if err != nil {
		return err
	}
	var res envelope.Result
	if err := resp.Decode(&res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("load-script refused: %s", res.Error)
	}
	return nil
}
