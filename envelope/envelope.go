// Package envelope defines the typed messages exchanged between webclip
// contexts and the dispatch table each context serves them through.
//
// An Envelope carries a Name discriminant, an optional correlation ID for
// broadcast-correlated replies, and a JSON body holding the variant fields.
// Contexts never switch on raw strings: they register one typed handler per
// Name on a Mux and validate at startup that every Name they consume is
// covered.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Name is the discriminant of an envelope.
type Name string

// Page context (scraper) vocabulary.
const (
	SaveSelection       Name = "save-selection"
	SavePage            Name = "save-page"
	GetRectangle        Name = "get-rectangle-for-screenshot"
	GetDevicePixelRatio Name = "get-device-pixel-ratio"
	Toast               Name = "toast"
)

// Renderer vocabulary. Both travel by broadcast and are correlated by ID.
const (
	CropImage       Name = "crop-image"
	CropImageResult Name = "crop-image-result"
)

// Orchestrator runtime vocabulary.
const (
	LoadScript            Name = "load-script"
	SaveCroppedScreenshot Name = "save-cropped-screenshot"
	SaveWholeScreenshot   Name = "save-whole-screenshot"
	SaveWholePage         Name = "save-whole-page"
	SaveTabs              Name = "save-tabs"
	SaveLinkWithNote      Name = "save-link-with-note"
	SaveImage             Name = "save-image"
	SaveLink              Name = "save-link"
	OpenNote              Name = "open-note"
	CloseTabs             Name = "close-tabs"
	TriggerSearch         Name = "trigger-search"
	SendSearchStatus      Name = "send-search-status"
	TriggerSearchNoteURL  Name = "trigger-search-note-url"
)

// Broadcast-only vocabulary consumed by popups. The core passes these
// through without interpreting them.
const (
	SearchStatus      Name = "search-status"
	PreviouslyVisited Name = "previously-visited"
)

var known = map[Name]struct{}{
	SaveSelection: {}, SavePage: {}, GetRectangle: {}, GetDevicePixelRatio: {}, Toast: {},
	CropImage: {}, CropImageResult: {},
	LoadScript: {}, SaveCroppedScreenshot: {}, SaveWholeScreenshot: {}, SaveWholePage: {},
	SaveTabs: {}, SaveLinkWithNote: {}, SaveImage: {}, SaveLink: {}, OpenNote: {},
	CloseTabs: {}, TriggerSearch: {}, SendSearchStatus: {}, TriggerSearchNoteURL: {},
	SearchStatus: {}, PreviouslyVisited: {},
}

// Known reports whether n belongs to the vocabulary.
func (n Name) Known() bool {
	_, ok := known[n]
	return ok
}

// Envelope is one message between contexts.
type Envelope struct {
	Name          Name            `json:"name"`
	CorrelationID string          `json:"id,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// New builds an envelope with v marshalled as body. A nil v yields no body.
func New(name Name, v any) (Envelope, error) {
	env := Envelope{Name: name}
	if v == nil {
		return env, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s: %w", name, err)
	}
	env.Body = body
	return env, nil
}

// MustNew is New for bodies that cannot fail to marshal.
func MustNew(name Name, v any) Envelope {
	env, err := New(name, v)
	if err != nil {
		panic(err)
	}
	return env
}

// Correlated returns a copy of e carrying id.
func (e Envelope) Correlated(id string) Envelope {
	e.CorrelationID = id
	return e
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("envelope: decode %s: %w", e.Name, err)
	}
	return nil
}

// Failed reports whether the envelope carries an error reply.
func (e Envelope) Failed() bool { return e.Error != "" }

// Reply builds the response to e: same name and correlation ID, body v.
func Reply(req Envelope, v any) (Envelope, error) {
	env, err := New(req.Name, v)
	if err != nil {
		return Envelope{}, err
	}
	env.CorrelationID = req.CorrelationID
	return env, nil
}

// ErrorReply builds an error response to req.
func ErrorReply(req Envelope, err error) Envelope {
	return Envelope{Name: req.Name, CorrelationID: req.CorrelationID, Error: err.Error()}
}
