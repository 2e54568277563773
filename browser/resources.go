package browser

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps the names accepted in browser.block_resources to CDP
// resource types. Images and documents are absent: captures need them.
var blockable = map[string]proto.NetworkResourceType{
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"websocket":   proto.NetworkResourceTypeWebSocket,
	"eventsource": proto.NetworkResourceTypeEventSource,
	"manifest":    proto.NetworkResourceTypeManifest,
	"ping":        proto.NetworkResourceTypePing,
	"prefetch":    proto.NetworkResourceTypePrefetch,
}

// resourcePolicy is the set of resource types a tab never loads.
type resourcePolicy map[proto.NetworkResourceType]bool

// parseBlockList validates configured resource names.
func parseBlockList(names []string) (resourcePolicy, error) {
	p := make(resourcePolicy, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		t, ok := blockable[n]
		if !ok {
			return nil, fmt.Errorf("browser: cannot block %q (known: %s)", n, strings.Join(blockableNames(), ", "))
		}
		p[t] = true
	}
	return p, nil
}

func blockableNames() []string {
	names := make([]string, 0, len(blockable))
	for n := range blockable {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p resourcePolicy) blocks(t proto.NetworkResourceType) bool { return p[t] }

// hijack fails the page's requests the policy blocks. The returned router
// must be stopped when the tab goes away.
func (p resourcePolicy) hijack(page *rod.Page, logger *slog.Logger) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if p.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	logger.Debug("browser: resource blocking on", "target", page.TargetID, "types", len(p))
	return router
}
