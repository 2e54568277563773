package envelope

import "github.com/hazyhaar/webclip/clip"

// RectangleReply answers GetRectangle. Cancelled is set when the user
// pressed escape or released without dragging.
type RectangleReply struct {
	Rect      clip.Rect `json:"rect"`
	Cancelled bool      `json:"cancelled,omitempty"`
}

// PixelRatioReply answers GetDevicePixelRatio.
type PixelRatioReply struct {
	Ratio float64 `json:"ratio"`
}

// PageReply answers SavePage: a readable extraction plus document dates
// as found in the page metadata (RFC 3339 or empty).
type PageReply struct {
	Payload       clip.Payload `json:"payload"`
	PublishedTime string       `json:"publishedTime,omitempty"`
	ModifiedTime  string       `json:"modifiedTime,omitempty"`
}

// ToastRequest asks the page context to show a transient notification.
// NoteID enables the "open note" link, TabIDs the "close saved tabs" link.
type ToastRequest struct {
	Message string `json:"message"`
	NoteID  string `json:"noteId,omitempty"`
	TabIDs  []int  `json:"tabIds,omitempty"`
}

// CropRequest asks the renderer to crop DataURL to Rect (device pixels).
type CropRequest struct {
	Rect    clip.Rect `json:"newArea"`
	DataURL string    `json:"dataUrl"`
}

// CropResult carries the cropped image as a data URI.
type CropResult struct {
	DataURL string `json:"result"`
}

// LoadScriptRequest asks the orchestrator to inject a helper script into
// the requesting tab, or the active tab when TabID is zero.
type LoadScriptRequest struct {
	File  string `json:"file"`
	TabID int    `json:"tabId,omitempty"`
}

// PageRequest names the page a screenshot is filed under. An empty PageURL
// means the active tab's URL.
type PageRequest struct {
	PageURL string `json:"pageUrl,omitempty"`
}

// LinkNoteRequest is a manually authored note about the active tab.
type LinkNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ImageRequest clips a single image.
type ImageRequest struct {
	SrcURL  string `json:"srcUrl"`
	PageURL string `json:"pageUrl"`
}

// LinkRequest clips a single link.
type LinkRequest struct {
	LinkURL  string `json:"linkUrl"`
	LinkText string `json:"linkText,omitempty"`
	PageURL  string `json:"pageUrl"`
}

// NoteRequest targets an existing note.
type NoteRequest struct {
	NoteID string `json:"noteId"`
}

// TabsRequest targets a set of tabs.
type TabsRequest struct {
	TabIDs []int `json:"tabIds"`
}

// Result is the generic acknowledgement of a runtime command.
type Result struct {
	Success bool   `json:"success"`
	NoteID  string `json:"noteId,omitempty"`
	TabIDs  []int  `json:"tabIds,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SearchStatusBody is broadcast to popups. Status is one of not-found,
// version-mismatch, found-desktop, found-server.
type SearchStatusBody struct {
	Status         string `json:"status"`
	URL            string `json:"url,omitempty"`
	Port           int    `json:"port,omitempty"`
	ExtensionMajor int    `json:"extensionMajor,omitempty"`
	ServiceMajor   int    `json:"triliumMajor,omitempty"`
}

// PreviouslyVisitedBody is broadcast to popups after a note-by-URL lookup.
type PreviouslyVisitedBody struct {
	Status string `json:"status"`
	NoteID string `json:"noteId,omitempty"`
}
