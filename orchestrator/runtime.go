package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/notesvc"
)

// Consumed lists the runtime commands the orchestrator answers.
var Consumed = []envelope.Name{
	envelope.LoadScript,
	envelope.SaveCroppedScreenshot,
	envelope.SaveWholeScreenshot,
	envelope.SaveWholePage,
	envelope.SaveTabs,
	envelope.SaveLinkWithNote,
	envelope.SaveImage,
	envelope.SaveLink,
	envelope.OpenNote,
	envelope.CloseTabs,
	envelope.TriggerSearch,
	envelope.SendSearchStatus,
	envelope.TriggerSearchNoteURL,
}

// Runtime commands report failure in the Result rather than as an error
// reply, so a popup can show the message.
func (o *Orchestrator) register() {
	envelope.Handle(o.mux, envelope.LoadScript, func(ctx context.Context, req envelope.LoadScriptRequest) (envelope.Result, error) {
		return result(o.LoadScript(ctx, req.TabID, req.File)), nil
	})
	envelope.Handle(o.mux, envelope.SaveCroppedScreenshot, func(ctx context.Context, req envelope.PageRequest) (envelope.Result, error) {
		out, err := o.CaptureCroppedScreenshot(ctx, req.PageURL)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.SaveWholeScreenshot, func(ctx context.Context, req envelope.PageRequest) (envelope.Result, error) {
		out, err := o.CaptureWholeScreenshot(ctx, req.PageURL)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.SaveWholePage, func(ctx context.Context, req envelope.PageRequest) (envelope.Result, error) {
		out, err := o.CaptureWholePage(ctx, req.PageURL)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.SaveTabs, func(ctx context.Context, _ struct{}) (envelope.Result, error) {
		out, err := o.CaptureTabs(ctx)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.SaveLinkWithNote, func(ctx context.Context, req envelope.LinkNoteRequest) (envelope.Result, error) {
		out, err := o.CaptureLinkNote(ctx, req.Title, req.Content)
		res := outcome(out, err)
		// The popup keeps its text unless a note was created.
		res.Success = res.Success && out.NoteID != ""
		return res, nil
	})
	envelope.Handle(o.mux, envelope.SaveImage, func(ctx context.Context, req envelope.ImageRequest) (envelope.Result, error) {
		out, err := o.CaptureImage(ctx, req.SrcURL, req.PageURL)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.SaveLink, func(ctx context.Context, req envelope.LinkRequest) (envelope.Result, error) {
		out, err := o.CaptureLink(ctx, req.LinkURL, req.LinkText, req.PageURL)
		return outcome(out, err), nil
	})
	envelope.Handle(o.mux, envelope.OpenNote, func(ctx context.Context, req envelope.NoteRequest) (envelope.Result, error) {
		return result(o.OpenNote(ctx, req.NoteID)), nil
	})
	envelope.Handle(o.mux, envelope.CloseTabs, func(ctx context.Context, req envelope.TabsRequest) (envelope.Result, error) {
		return result(o.CloseTabs(ctx, req.TabIDs)), nil
	})
	envelope.Handle(o.mux, envelope.TriggerSearch, func(ctx context.Context, _ struct{}) (envelope.Result, error) {
		return result(o.TriggerSearch(ctx)), nil
	})
	envelope.Handle(o.mux, envelope.SendSearchStatus, func(ctx context.Context, _ struct{}) (envelope.Result, error) {
		return result(o.SendSearchStatus()), nil
	})
	envelope.Handle(o.mux, envelope.TriggerSearchNoteURL, func(ctx context.Context, _ struct{}) (envelope.Result, error) {
		return result(o.SearchNoteByURL(ctx)), nil
	})
}

func result(err error) envelope.Result {
	if err != nil {
		return envelope.Result{Error: err.Error()}
	}
	return envelope.Result{Success: true}
}

func outcome(out Outcome, err error) envelope.Result {
	res := result(err)
	res.NoteID = out.NoteID
	res.TabIDs = out.TabIDs
	return res
}

// Dispatch serves one runtime command synchronously.
func (o *Orchestrator) Dispatch(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error) {
	return o.mux.Dispatch(ctx, env)
}

// receive serves a runtime broadcast. Correlated requests get their reply
// broadcast back under the same name and token.
func (o *Orchestrator) receive(env envelope.Envelope) {
	if !o.mux.Has(env.Name) {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	resp, err := o.mux.Dispatch(o.baseCtx, env)
	if env.CorrelationID == "" {
		return
	}
	if err != nil {
		resp = envelope.ErrorReply(env, err)
	}
	resp.Name = env.Name
	resp.CorrelationID = env.CorrelationID
	if err := o.bus.Broadcast(Origin, resp); err != nil {
		o.logger.Warn("orchestrator: broadcast reply", "name", env.Name, "id", env.CorrelationID, "error", err)
	}
}

// LoadScript injects a helper script into tabID, or the active tab.
func (o *Orchestrator) LoadScript(ctx context.Context, tabID int, file string) error {
	if tabID == 0 {
		tab, err := o.tabs.Active(ctx)
		if err != nil {
			return err
		}
		tabID = tab.ID
	}
	if err := o.tabs.InjectScript(ctx, tabID, file); err != nil {
		return fmt.Errorf("orchestrator: load %s: %w", file, err)
	}
	return nil
}

// OpenNote shows a note in the note service. When the service answers
// that it cannot (no desktop app), the note is opened in a new tab on the
// server.
func (o *Orchestrator) OpenNote(ctx context.Context, noteID string) error {
	res, err := o.svc.Open(ctx, noteID)
	if err != nil {
		return err
	}
	if res != "open-in-browser" {
		return nil
	}
	server, err := o.svc.ServerURL(ctx)
	if err != nil {
		return err
	}
	if server == "" {
		o.logger.ErrorContext(ctx, "orchestrator: no server url to open note", "note", noteID)
		return nil
	}
	noteURL := strings.TrimRight(server, "/") + "/#" + noteID
	o.logger.InfoContext(ctx, "orchestrator: opening note in browser", "url", noteURL)
	_, err = o.tabs.Create(ctx, noteURL)
	return err
}

// CloseTabs closes tabs, typically the ones a tabs capture saved.
func (o *Orchestrator) CloseTabs(ctx context.Context, tabIDs []int) error {
	return o.tabs.Remove(ctx, tabIDs...)
}

// TriggerSearch looks for the note service again and broadcasts the
// outcome to popups.
func (o *Orchestrator) TriggerSearch(ctx context.Context) error {
	return o.broadcast(envelope.SearchStatus, statusBody(o.svc.Search(ctx)))
}

// SendSearchStatus broadcasts the last search outcome.
func (o *Orchestrator) SendSearchStatus() error {
	return o.broadcast(envelope.SearchStatus, statusBody(o.svc.Status()))
}

func statusBody(st notesvc.Status) envelope.SearchStatusBody {
	return envelope.SearchStatusBody{
		Status:         st.State,
		URL:            st.URL,
		Port:           st.Port,
		ExtensionMajor: st.ExtensionMajor,
		ServiceMajor:   st.ServiceMajor,
	}
}

// SearchNoteByURL broadcasts whether the active tab's page was clipped
// before.
func (o *Orchestrator) SearchNoteByURL(ctx context.Context) error {
	tab, err := o.tabs.Active(ctx)
	if err != nil {
		return err
	}
	noteID, err := o.svc.NotesByURL(ctx, tab.URL)
	if err != nil {
		return err
	}
	body := envelope.PreviouslyVisitedBody{Status: "not-found"}
	if noteID != "" {
		body = envelope.PreviouslyVisitedBody{Status: "found", NoteID: noteID}
	}
	return o.broadcast(envelope.PreviouslyVisited, body)
}

func (o *Orchestrator) broadcast(name envelope.Name, body any) error {
	env, err := envelope.New(name, body)
	if err != nil {
		return err
	}
	return o.bus.Broadcast(Origin, env)
}
