package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/webclip/envelope"
)

func TestCall_ReverseOrderReplies(t *testing.T) {
	b := New()
	defer b.Close()

	// The peer holds both requests, then answers the second one first.
	var mu sync.Mutex
	var pending []envelope.Envelope
	both := make(chan struct{})
	b.Listen("peer", func(env envelope.Envelope) {
		if env.Name != envelope.CropImage {
			return
		}
		mu.Lock()
		pending = append(pending, env)
		if len(pending) == 2 {
			close(both)
		}
		mu.Unlock()
	})

	type out struct {
		body string
		err  error
	}
	call := func(token string, res chan<- out) {
		req := envelope.MustNew(envelope.CropImage, envelope.CropRequest{DataURL: token}).Correlated(token)
		env, err := b.Call(context.Background(), "caller-"+token, req, envelope.CropImageResult)
		if err != nil {
			res <- out{err: err}
			return
		}
		var r envelope.CropResult
		_ = env.Decode(&r)
		res <- out{body: r.DataURL}
	}

	resA := make(chan out, 1)
	resB := make(chan out, 1)
	go call("tokA", resA)
	go call("tokB", resB)

	select {
	case <-both:
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not receive both requests")
	}

	mu.Lock()
	reqs := append([]envelope.Envelope(nil), pending...)
	mu.Unlock()
	for i := len(reqs) - 1; i >= 0; i-- {
		var in envelope.CropRequest
		require.NoError(t, reqs[i].Decode(&in))
		reply := envelope.MustNew(envelope.CropImageResult, envelope.CropResult{DataURL: "cropped-" + in.DataURL}).
			Correlated(reqs[i].CorrelationID)
		require.NoError(t, b.Broadcast("peer", reply))
	}

	a := <-resA
	bb := <-resB
	require.NoError(t, a.err)
	require.NoError(t, bb.err)
	assert.Equal(t, "cropped-tokA", a.body)
	assert.Equal(t, "cropped-tokB", bb.body)
}

func TestCall_ErrorReply(t *testing.T) {
	b := New()
	defer b.Close()
	b.Listen("peer", func(env envelope.Envelope) {
		if env.Name == envelope.CropImage {
			fail := envelope.ErrorReply(env, errors.New("boom"))
			fail.Name = envelope.CropImageResult
			_ = b.Broadcast("peer", fail)
		}
	})

	req := envelope.MustNew(envelope.CropImage, nil).Correlated("t1")
	_, err := b.Call(context.Background(), "caller", req, envelope.CropImageResult)
	var remote *envelope.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestCall_RequiresCorrelationID(t *testing.T) {
	b := New()
	defer b.Close()
	_, err := b.Call(context.Background(), "caller", envelope.MustNew(envelope.CropImage, nil), envelope.CropImageResult)
	assert.ErrorIs(t, err, ErrUncorrelated)
}

func TestCall_ContextEnds(t *testing.T) {
	b := New()
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := envelope.MustNew(envelope.CropImage, nil).Correlated("t1")
	_, err := b.Call(ctx, "caller", req, envelope.CropImageResult)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
