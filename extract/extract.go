// Package extract finds the readable article in a parsed HTML document.
//
// The document is consumed: the article nodes are detached from it and
// re-parented under a fresh container, so callers parse a private copy.
// Selection tries semantic landmarks (<main>, <article>) first, then falls
// back to text-density scoring over the body.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMinTextLen is the shortest text a candidate region may hold.
const DefaultMinTextLen = 50

// Article is the readable part of a page.
type Article struct {
	Title   string
	Content *html.Node // detached <div> holding the article nodes
	Text    string
}

// Readable extracts the article of doc. It never fails: a page without a
// convincing candidate yields its whole body.
func Readable(doc *html.Node, minLen int) *Article {
	if minLen <= 0 {
		minLen = DefaultMinTextLen
	}
	title := Title(doc)

	var picked []*html.Node
	for _, n := range findContentByLandmarks(doc) {
		if !isBoilerplate(n) && len(collectText(n)) >= minLen {
			picked = append(picked, n)
		}
	}
	if len(picked) == 0 {
		body := findBody(doc)
		if body == nil {
			body = doc
		}
		if best := findDensestNode(body, minLen); best != nil {
			picked = []*html.Node{best}
		} else {
			stripBoilerplate(body)
			picked = childrenOf(body)
		}
	}

	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range picked {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		container.AppendChild(n)
	}
	stripUnsafe(container)
	return &Article{Title: title, Content: container, Text: collectText(container)}
}

// Title returns the document title: <title>, else og:title, else the
// first <h1>.
func Title(doc *html.Node) string {
	if t := findTitle(doc); t != "" {
		return t
	}
	if t := Meta(doc, "og:title"); t != "" {
		return t
	}
	if h := QuerySelectorAll(doc, "h1"); len(h) > 0 {
		return collectText(h[0])
	}
	return ""
}

// Meta returns the content of the first <meta property=...> or
// <meta name=...> matching key.
func Meta(doc *html.Node, key string) string {
	for _, attr := range []string{"property", "name"} {
		for _, n := range QuerySelectorAll(doc, "meta["+attr+"="+key+"]") {
			if v := strings.TrimSpace(getAttr(n, "content")); v != "" {
				return v
			}
		}
	}
	return ""
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		html.Render(&buf, c)
	}
	return buf.String()
}

func findTitle(doc *html.Node) string {
	for _, n := range findAllByTag(doc, atom.Title) {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	return ""
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// collectText extracts all visible text from a node subtree.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func childrenOf(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// stripUnsafe drops script-like elements from the article.
func stripUnsafe(n *html.Node) {
	removeWhere(n, func(c *html.Node) bool {
		switch c.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Form:
			return true
		}
		return false
	})
}

// stripBoilerplate drops nav, footer and similar regions.
func stripBoilerplate(n *html.Node) {
	removeWhere(n, isBoilerplate)
}

func removeWhere(n *html.Node, drop func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && drop(c) {
			n.RemoveChild(c)
		} else {
			removeWhere(c, drop)
		}
		c = next
	}
}

// isContentTag returns true for tags likely to contain main content.
func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Td, atom.Th, atom.Dl, atom.Dd, atom.Dt,
		atom.Figure, atom.Figcaption, atom.Details, atom.Summary:
		return true
	}
	return false
}

// isBoilerplate checks if a node is likely boilerplate (nav, footer, etc).
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key == "class" || attr.Key == "id" {
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		}
		if attr.Key == "role" {
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "nav", "menu", "breadcrumb",
	"cookie", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal",
}
