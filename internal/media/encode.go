package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// RenderWebP fits the frame inside the given box preserving aspect ratio and
// encodes it as lossy WebP. Returns the encoded bytes and the actual output
// dimensions.
func RenderWebP(frame image.Image, maxWidth, maxHeight, quality int) ([]byte, int, int, error) {
	resized := imaging.Fit(frame, maxWidth, maxHeight, imaging.Lanczos)
	bounds := resized.Bounds()

	var buf bytes.Buffer
	err := webp.Encode(&buf, resized, &webp.Options{Quality: float32(quality)})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
