package renderer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"net/url"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/webclip/clip"
)

// ErrEmptyRect is returned when the crop rectangle has no pixels.
var ErrEmptyRect = errors.New("renderer: empty crop rectangle")

// Crop decodes the data URI src, copies the sub-image r (device pixels)
// onto a canvas of exactly r's size and returns it as a PNG data URI.
// Parts of r outside the source stay transparent.
func Crop(src string, r clip.Rect) (string, error) {
	raw, err := decodeDataURI(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", clip.ErrDecode, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", clip.ErrDecode, err)
	}

	area := pixelRect(r)
	if area.Empty() {
		return "", fmt.Errorf("%w: %s", ErrEmptyRect, r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, area.Dx(), area.Dy()))
	origin := img.Bounds().Min.Add(area.Min)
	draw.Draw(dst, dst.Bounds(), img, origin, draw.Src)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("renderer: encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// pixelRect rounds a device rectangle to whole pixels.
func pixelRect(r clip.Rect) image.Rectangle {
	x := int(math.Round(r.X))
	y := int(math.Round(r.Y))
	w := int(math.Round(r.Width))
	h := int(math.Round(r.Height))
	return image.Rect(x, y, x+w, y+h)
}

func decodeDataURI(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	if strings.HasSuffix(meta, ";base64") {
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		return out, nil
	}
	out, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("unescape: %w", err)
	}
	return []byte(out), nil
}
