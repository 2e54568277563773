package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/webclip/clip"
	"github.com/hazyhaar/webclip/envelope"
	"github.com/hazyhaar/webclip/renderer"
)

// ensureSurface makes the offscreen surface resident. An existing surface
// is the steady state, not an error.
func (o *Orchestrator) ensureSurface() error {
	if err := o.host.CreateSurface(); err != nil && !errors.Is(err, renderer.ErrSurfaceExists) {
		return fmt.Errorf("orchestrator: offscreen surface: %w", err)
	}
	return nil
}

// crop has the renderer cut rect out of the raster src. The request goes
// out by broadcast with a fresh token; the first result carrying the same
// token answers it.
func (o *Orchestrator) crop(ctx context.Context, rect clip.Rect, src string) (string, error) {
	if err := o.ensureSurface(); err != nil {
		return "", err
	}
	if o.rendererTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.rendererTimeout)
		defer cancel()
	}

	req, err := envelope.New(envelope.CropImage, envelope.CropRequest{Rect: rect, DataURL: src})
	if err != nil {
		return "", err
	}
	token := o.newToken()
	resp, err := o.bus.Call(ctx, Origin, req.Correlated(token), envelope.CropImageResult)
	if err != nil {
		return "", fmt.Errorf("orchestrator: crop %s: %w", token, remoteCause(err, clip.ErrDecode))
	}
	var res envelope.CropResult
	if err := resp.Decode(&res); err != nil {
		return "", err
	}
	return res.DataURL, nil
}
