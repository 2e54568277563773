// Package clip holds the data model shared by every webclip context: the
// capture payload posted to the note service, image references, selection
// rectangles and the capture error taxonomy.
package clip

import (
	"encoding/json"
	"mime"
	"strings"
)

// ClipType tells the note service how to file a capture.
type ClipType string

const (
	ClipSelection ClipType = "selection"
	ClipPage      ClipType = "page"
	ClipTabs      ClipType = "tabs"
	ClipNote      ClipType = "note"
)

// Collection is the note service endpoint a payload is posted to.
type Collection string

const (
	// Clippings are appended to the day note.
	Clippings Collection = "clippings"
	// Notes become standalone notes.
	Notes Collection = "notes"
)

// Payload is one capture, ready to post.
//
// Every <img> in Content whose source matched an ImageRef's original source
// points at that ref's ID, and Images never holds two refs with the same
// original source.
type Payload struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Images   []*ImageRef       `json:"images,omitempty"`
	PageURL  string            `json:"pageUrl,omitempty"`
	ClipType ClipType          `json:"clipType,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// ImageRef is an image embedded in a payload.
//
// OriginalSrc is the source as found in the page. Src is what the note
// service receives as the image's name: the original URL, or a synthetic
// "inline.<ext>" for data URIs. DataURL stays empty when resolution failed.
// OriginalSrc is not sent to the note service; a decoded ref takes it from
// "originalSrc" when present, else from Src.
type ImageRef struct {
	ID          string `json:"imageId"`
	OriginalSrc string `json:"-"`
	Src         string `json:"src"`
	DataURL     string `json:"dataUrl,omitempty"`
}

// NewImageRef creates an unresolved reference.
func NewImageRef(id, src string) *ImageRef {
	return &ImageRef{ID: id, OriginalSrc: src, Src: src}
}

// UnmarshalJSON decodes a ref and restores OriginalSrc.
func (r *ImageRef) UnmarshalJSON(b []byte) error {
	type wire ImageRef
	var w struct {
		wire
		OriginalSrc string `json:"originalSrc"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = ImageRef(w.wire)
	r.OriginalSrc = w.OriginalSrc
	if r.OriginalSrc == "" {
		r.OriginalSrc = r.Src
	}
	return nil
}

// Resolved reports whether the image data is present.
func (r *ImageRef) Resolved() bool { return r.DataURL != "" }

// IsDataURI reports whether src is a self-contained image data URI.
func IsDataURI(src string) bool {
	return strings.HasPrefix(src, "data:image/")
}

// MIMEOfDataURI returns the declared media type of a data URI, or "".
func MIMEOfDataURI(src string) string {
	if !strings.HasPrefix(src, "data:") {
		return ""
	}
	rest := src[len("data:"):]
	end := strings.IndexAny(rest, ";,")
	if end < 0 {
		return ""
	}
	return strings.ToLower(rest[:end])
}

// ExtensionForMIME derives a filename extension from an image media type.
// Unknown subtypes fall back to the raw subtype, and "png" when even that
// is missing.
func ExtensionForMIME(mediaType string) string {
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return "ico"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" {
		return "png"
	}
	if i := strings.IndexByte(sub, '+'); i > 0 {
		sub = sub[:i]
	}
	return sub
}

// InlineName is the synthetic filename given to data-URI images.
func InlineName(dataURI string) string {
	return "inline." + ExtensionForMIME(MIMEOfDataURI(dataURI))
}

// Tab is a browser tab as seen by the orchestrator.
type Tab struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}
