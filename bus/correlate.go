package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/webclip/envelope"
)

// ErrUncorrelated is returned by Call for a request without a correlation ID.
var ErrUncorrelated = errors.New("bus: request has no correlation id")

// Call broadcasts req from origin and waits for the first broadcast named
// reply that carries req's correlation ID. Its listener is registered
// before the request goes out and removed before Call returns, so a token
// is answered at most once. An error reply is returned as
// *envelope.RemoteError.
//
// Uniqueness of correlation IDs is the caller's business.
func (b *Bus) Call(ctx context.Context, origin string, req envelope.Envelope, reply envelope.Name) (envelope.Envelope, error) {
	if req.CorrelationID == "" {
		return envelope.Envelope{}, ErrUncorrelated
	}

	got := make(chan envelope.Envelope, 1)
	remove := b.Listen(origin, func(env envelope.Envelope) {
		if env.Name != reply || env.CorrelationID != req.CorrelationID {
			return
		}
		select {
		case got <- env:
		default:
		}
	})
	defer remove()

	if err := b.Broadcast(origin, req); err != nil {
		return envelope.Envelope{}, fmt.Errorf("bus: call %s: %w", req.Name, err)
	}

	select {
	case env := <-got:
		if env.Failed() {
			return envelope.Envelope{}, &envelope.RemoteError{Name: req.Name, Message: env.Error}
		}
		return env, nil
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}
