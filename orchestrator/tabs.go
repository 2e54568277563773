package orchestrator

import (
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/hazyhaar/webclip/clip"
)

// topDomainCount is how many hostnames a tabs note title names.
const topDomainCount = 3

// tabsTitleFormat is not localised: note titles stay stable across
// popup languages.
const tabsTitleFormat = "%d browser tabs: %s"

func (o *Orchestrator) tabsPayload(tabs []clip.Tab) *clip.Payload {
	var b strings.Builder
	b.WriteString("<ul>")
	for _, t := range tabs {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, html.EscapeString(t.URL), html.EscapeString(t.Title))
	}
	b.WriteString("</ul>")

	return &clip.Payload{
		Title:    fmt.Sprintf(tabsTitleFormat, len(tabs), topDomains(tabs)),
		Content:  b.String(),
		ClipType: clip.ClipTabs,
	}
}

// topDomains names the most frequent hostnames, most frequent first, ties
// in order of first appearance. "..." marks a window of more than three tabs.
func topDomains(tabs []clip.Tab) string {
	type domain struct {
		host  string
		count int
	}
	var domains []*domain
	index := make(map[string]*domain)
	for _, t := range tabs {
		host := ""
		if u, err := url.Parse(t.URL); err == nil {
			host = u.Hostname()
		}
		d, ok := index[host]
		if !ok {
			d = &domain{host: host}
			index[host] = d
			domains = append(domains, d)
		}
		d.count++
	}
	sort.SliceStable(domains, func(i, j int) bool { return domains[i].count > domains[j].count })

	names := make([]string, 0, topDomainCount)
	for _, d := range domains[:min(topDomainCount, len(domains))] {
		names = append(names, d.host)
	}
	out := strings.Join(names, ", ")
	if len(tabs) > topDomainCount {
		out += "..."
	}
	return out
}
