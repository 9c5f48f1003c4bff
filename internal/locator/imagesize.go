package locator

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

type dimensions struct {
	Width    int
	Height   int
	MIMEType string
}

// decodeDimensions reads only the image header.
func decodeDimensions(data []byte) (dimensions, error) {
	if len(data) == 0 {
		return dimensions{}, fmt.Errorf("screenshot is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return dimensions{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return dimensions{}, fmt.Errorf("screenshot has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}
	return dimensions{Width: cfg.Width, Height: cfg.Height, MIMEType: "image/" + format}, nil
}
