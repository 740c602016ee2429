package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/chai2010/webp"
)

const (
	WebPContentType = "image/webp"
	webpQuality     = 85
)

// ToWebP decodes a JPEG, PNG or WebP image and re-encodes it as lossy WebP.
func ToWebP(src io.Reader) (*bytes.Buffer, error) {
	img, format, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}

	switch format {
	case "jpeg", "png", "webp":
	default:
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, &webp.Options{Lossless: false, Quality: webpQuality}); err != nil {
		return nil, fmt.Errorf("could not encode image: %w", err)
	}

	return buf, nil
}
