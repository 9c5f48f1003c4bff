// Package locator turns an element description into a pixel coordinate on the
// current screen: screenshot, decode dimensions, ask the pointing model, scale.
package locator

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/pointing"
)

// Screenshotter captures the active page. *browser.Manager implements it.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Coordinate is a located element, in both normalized and pixel space.
type Coordinate struct {
	NormX  float64 `json:"normalizedX"`
	NormY  float64 `json:"normalizedY"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"imageWidth"`
	Height int     `json:"imageHeight"`
	// Candidates is how many points the model returned; the first is used.
	Candidates int    `json:"candidates"`
	RequestID  string `json:"requestId,omitempty"`
}

// Locator resolves descriptions against screenshots.
type Locator struct {
	shots   Screenshotter
	pointer pointing.Pointer
	logger  *zap.Logger
}

// New creates a Locator. shots may be nil when only LocateImage is used.
func New(shots Screenshotter, pointer pointing.Pointer, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{shots: shots, pointer: pointer, logger: logger.Named("element_locator")}
}

// Locate screenshots the active session and finds description on it. found is
// false when the model saw nothing; that is not an error.
func (l *Locator) Locate(ctx context.Context, description string) (Coordinate, bool, error) {
	if l.shots == nil {
		return Coordinate{}, false, fmt.Errorf("locator has no screenshot source")
	}
	shot, err := l.shots.Screenshot(ctx)
	if err != nil {
		return Coordinate{}, false, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return l.LocateImage(ctx, shot, description)
}

// LocateImage finds description in an already captured image.
func (l *Locator) LocateImage(ctx context.Context, image []byte, description string) (Coordinate, bool, error) {
	if description == "" {
		return Coordinate{}, false, fmt.Errorf("element description is empty")
	}
	dims, err := decodeDimensions(image)
	if err != nil {
		return Coordinate{}, false, err
	}

	res, err := l.pointer.Point(ctx, pointing.Image{Data: image, MIMEType: dims.MIMEType}, description)
	if err != nil {
		return Coordinate{}, false, fmt.Errorf("pointing backend %s failed: %w", l.pointer.Name(), err)
	}
	if len(res.Points) == 0 {
		l.logger.Info("Element not found", zap.String("description", description), zap.String("provider", l.pointer.Name()))
		return Coordinate{}, false, nil
	}

	first := res.Points[0]
	x, err := toPixel(first.X, dims.Width)
	if err != nil {
		return Coordinate{}, false, fmt.Errorf("x coordinate: %w", err)
	}
	y, err := toPixel(first.Y, dims.Height)
	if err != nil {
		return Coordinate{}, false, fmt.Errorf("y coordinate: %w", err)
	}

	c := Coordinate{
		NormX:      first.X,
		NormY:      first.Y,
		X:          x,
		Y:          y,
		Width:      dims.Width,
		Height:     dims.Height,
		Candidates: len(res.Points),
		RequestID:  res.RequestID,
	}
	l.logger.Info("Element located",
		zap.String("description", description),
		zap.Int("x", c.X),
		zap.Int("y", c.Y),
		zap.Int("candidates", c.Candidates),
		zap.String("request_id", c.RequestID),
	)
	return c, true, nil
}

// toPixel floors norm*dim. A result outside [0, dim) is a detection failure,
// including norm == 1, and is never clamped.
func toPixel(norm float64, dim int) (int, error) {
	px := int(math.Floor(norm * float64(dim)))
	if px < 0 || px >= dim {
		return 0, fmt.Errorf("normalized value %g maps to pixel %d, outside [0,%d)", norm, px, dim)
	}
	return px, nil
}
