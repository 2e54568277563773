package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Phase is a step of one capture workflow.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingScraper   Phase = "awaiting-scraper"
	PhaseGeometryTransform Phase = "geometry-transform"
	PhaseAwaitingRenderer  Phase = "awaiting-renderer"
	PhaseAwaitingService   Phase = "awaiting-service"
	PhaseDone              Phase = "done"
	PhaseCancelled         Phase = "cancelled"
	PhaseFailed            Phase = "failed"
)

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled || p == PhaseFailed
}

// Idle may fail too: a capture without an active tab never gets to ask.
// Cancelled is only reachable while the page context holds the overlay.
var transitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseAwaitingScraper, PhaseAwaitingService, PhaseFailed},
	PhaseAwaitingScraper:   {PhaseGeometryTransform, PhaseAwaitingService, PhaseCancelled, PhaseFailed},
	PhaseGeometryTransform: {PhaseAwaitingRenderer, PhaseFailed},
	PhaseAwaitingRenderer:  {PhaseAwaitingService, PhaseFailed},
	PhaseAwaitingService:   {PhaseDone, PhaseFailed},
}

// ErrIllegalTransition is a workflow bug: a step out of order.
var ErrIllegalTransition = errors.New("orchestrator: illegal workflow transition")

// Capture kinds, as journalled.
const (
	KindSelection         = "selection"
	KindCroppedScreenshot = "cropped-screenshot"
	KindWholeScreenshot   = "whole-screenshot"
	KindPage              = "page"
	KindTabs              = "tabs"
	KindLinkNote          = "link-note"
	KindImage             = "image"
	KindLink              = "link"
)

// workflow is the state of one capture invocation.
type workflow struct {
	kind      string
	phase     Phase
	err       error
	journalID string
	journal   Journal
	logger    *slog.Logger
}

func (o *Orchestrator) begin(ctx context.Context, kind string) *workflow {
	w := &workflow{kind: kind, phase: PhaseIdle, journal: o.journal, logger: o.logger}
	if w.journal != nil {
		id, err := w.journal.Begin(ctx, kind, string(PhaseIdle))
		if err != nil {
			w.logger.WarnContext(ctx, "orchestrator: journal begin failed", "kind", kind, "error", err)
		}
		w.journalID = id
	}
	return w
}

func (w *workflow) to(ctx context.Context, next Phase) error {
	if !slices.Contains(transitions[w.phase], next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, w.phase, next)
	}
	w.logger.DebugContext(ctx, "orchestrator: workflow step", "kind", w.kind, "from", w.phase, "to", next)
	w.phase = next
	// Terminal phases are journalled by finish, with their outcome.
	if w.journalID != "" && !next.Terminal() {
		if err := w.journal.Advance(ctx, w.journalID, string(next)); err != nil {
			w.logger.WarnContext(ctx, "orchestrator: journal advance failed", "id", w.journalID, "error", err)
		}
	}
	return nil
}

// page records the page the capture is filed under.
func (w *workflow) page(ctx context.Context, pageURL string) {
	if w.journalID == "" || pageURL == "" {
		return
	}
	if err := w.journal.SetPageURL(ctx, w.journalID, pageURL); err != nil {
		w.logger.WarnContext(ctx, "orchestrator: journal page failed", "id", w.journalID, "error", err)
	}
}

func (w *workflow) finish(ctx context.Context, phase Phase, noteID string, cause error) error {
	if err := w.to(ctx, phase); err != nil {
		return err
	}
	w.err = cause
	if w.journalID != "" {
		if err := w.journal.Finish(context.WithoutCancel(ctx), w.journalID, string(phase), noteID, cause); err != nil {
			w.logger.WarnContext(ctx, "orchestrator: journal finish failed", "id", w.journalID, "error", err)
		}
	}
	return nil
}

func (w *workflow) done(ctx context.Context, noteID string) error {
	return w.finish(ctx, PhaseDone, noteID, nil)
}

func (w *workflow) cancel(ctx context.Context) error {
	w.logger.InfoContext(ctx, "orchestrator: capture cancelled", "kind", w.kind)
	return w.finish(ctx, PhaseCancelled, "", nil)
}

// fail moves to Failed and returns cause.
func (w *workflow) fail(ctx context.Context, cause error) error {
	if err := w.finish(ctx, PhaseFailed, "", cause); err != nil {
		return errors.Join(cause, err)
	}
	w.logger.WarnContext(ctx, "orchestrator: capture failed", "kind", w.kind, "error", cause)
	return cause
}
