package envelope

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_TypedRoundTrip(t *testing.T) {
	m := NewMux()
	Handle(m, OpenNote, func(ctx context.Context, req NoteRequest) (Result, error) {
		return Result{Success: true, NoteID: req.NoteID}, nil
	})

	req := MustNew(OpenNote, NoteRequest{NoteID: "abc"}).Correlated("tok")
	resp, err := m.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OpenNote, resp.Name)
	assert.Equal(t, "tok", resp.CorrelationID)

	var res Result
	require.NoError(t, resp.Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "abc", res.NoteID)
}

func TestDispatch_Unhandled(t *testing.T) {
	m := NewMux()
	_, err := m.Dispatch(context.Background(), Envelope{Name: CloseTabs})
	var unhandled *ErrUnhandled
	require.True(t, errors.As(err, &unhandled))
	assert.Equal(t, CloseTabs, unhandled.Name)
}

func TestValidate_ReportsMissing(t *testing.T) {
	m := NewMux()
	Handle(m, SaveTabs, func(context.Context, struct{}) (Result, error) { return Result{}, nil })

	require.NoError(t, m.Validate(SaveTabs))
	err := m.Validate(SaveTabs, SaveWholePage, OpenNote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save-whole-page")
	assert.Contains(t, err.Error(), "open-note")
}

func TestHandleFunc_PanicsOnUnknownAndDuplicate(t *testing.T) {
	m := NewMux()
	noop := func(context.Context, Envelope) (Envelope, error) { return Envelope{}, nil }
	assert.Panics(t, func() { m.HandleFunc(Name("bogus"), noop) })
	m.HandleFunc(Toast, noop)
	assert.Panics(t, func() { m.HandleFunc(Toast, noop) })
}

func TestRecovery(t *testing.T) {
	m := NewMux(WithMiddleware(Recovery(quietLogger())))
	m.HandleFunc(Toast, func(context.Context, Envelope) (Envelope, error) {
		panic("kaboom")
	})
	_, err := m.Dispatch(context.Background(), Envelope{Name: Toast})
	var p *ErrPanic
	require.True(t, errors.As(err, &p))
	assert.Equal(t, "kaboom", p.Value)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, env Envelope) (Envelope, error) {
				order = append(order, name)
				return next(ctx, env)
			}
		}
	}
	m := NewMux(WithMiddleware(mw("a"), mw("b")))
	m.HandleFunc(Toast, func(context.Context, Envelope) (Envelope, error) {
		order = append(order, "handler")
		return Envelope{}, nil
	})
	_, err := m.Dispatch(context.Background(), Envelope{Name: Toast})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestDecode_EmptyBody(t *testing.T) {
	req := NoteRequest{NoteID: "keep"}
	require.NoError(t, Envelope{Name: OpenNote}.Decode(&req))
	assert.Equal(t, "keep", req.NoteID)
}

func TestErrorReply(t *testing.T) {
	req := Envelope{Name: CropImage, CorrelationID: "x1"}
	resp := ErrorReply(req, errors.New("bad"))
	assert.True(t, resp.Failed())
	assert.Equal(t, "x1", resp.CorrelationID)
}
