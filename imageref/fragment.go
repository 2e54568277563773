package imageref

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/idgen"
)

// ParseFragment parses an HTML fragment into a detached <div> container.
func ParseFragment(fragment string) (*html.Node, error) {
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), container)
	if err != nil {
		return nil, fmt.Errorf("imageref: parse fragment: %w", err)
	}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return container, nil
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", fmt.Errorf("imageref: render: %w", err)
		}
	}
	return sb.String(), nil
}

// ExtractFragment is Extract over an HTML fragment string. It returns the
// rewritten fragment and its image references. Credentials in baseURL are
// not carried into resolved links or image sources.
func ExtractFragment(fragment, baseURL string, newID idgen.Generator) (string, []*clip.ImageRef, error) {
	root, err := ParseFragment(fragment)
	if err != nil {
		return "", nil, err
	}
	var base *url.URL
	if baseURL != "" {
		if base, err = url.Parse(baseURL); err != nil {
			return "", nil, fmt.Errorf("imageref: base url: %w", err)
		}
		base.User = nil
	}
	images := Extract(root, base, newID)
	out, err := InnerHTML(root)
	if err != nil {
		return "", nil, err
	}
	return out, images, nil
}
