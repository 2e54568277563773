// Package imageref turns scraped HTML into a postable form: links become
// absolute, embedded images are deduplicated by source and rewritten to
// stable reference ids, and referenced images are resolved to data URIs.
package imageref

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/idgen"
)

// Extract rewrites root in place and returns its image references in
// document order of first occurrence.
//
// Every <a href> is made absolute against base. Every <img src> is made
// absolute, then replaced by the id of the reference holding that exact
// source, minting a new reference on first sight. Images without a source
// are left alone.
func Extract(root *html.Node, base *url.URL, newID idgen.Generator) []*clip.ImageRef {
	if newID == nil {
		newID = idgen.ImageID()
	}
	var images []*clip.ImageRef
	bySrc := make(map[string]*clip.ImageRef)

	walk(root, func(n *html.Node) {
		switch n.DataAtom {
		case atom.A:
			if href, ok := attr(n, "href"); ok && href != "" {
				setAttr(n, "href", Absolute(base, href))
			}
		case atom.Img:
			src, _ := attr(n, "src")
			src = strings.TrimSpace(src)
			if src == "" {
				return
			}
			src = Absolute(base, src)
			ref, seen := bySrc[src]
			if !seen {
				ref = clip.NewImageRef(newID(), src)
				bySrc[src] = ref
				images = append(images, ref)
			}
			setAttr(n, "src", ref.ID)
			removeAttr(n, "srcset")
		}
	})
	return images
}

// Absolute resolves ref against base. URLs that already carry a scheme
// (http, https, file, data, mailto, ...) are returned unchanged, as are
// unparseable ones.
func Absolute(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
