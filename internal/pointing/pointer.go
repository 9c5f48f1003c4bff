// Package pointing resolves a natural language description of something on
// screen to normalized image coordinates using a vision model.
package pointing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrMissingCredentials is returned when a cloud provider is selected without an API key.
	ErrMissingCredentials = errors.New("pointing provider requires an API key")
	// ErrUnexpectedResponse is returned when a provider answers with a shape it should not.
	ErrUnexpectedResponse = errors.New("unexpected response from pointing backend")
)

// Point is a location in normalized image space: 0 is the left/top edge, 1 the right/bottom.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Image is an encoded screenshot.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image as a base64 data URI.
func (i Image) DataURI() string {
	mimeType := i.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(i.Data))
}

// Result is what a provider found. An empty Points slice is a normal outcome.
type Result struct {
	Points    []Point
	RequestID string
}

// Pointer is implemented by every pointing provider.
type Pointer interface {
	Name() string
	// Point returns the locations matching description in img.
	Point(ctx context.Context, img Image, description string) (Result, error)
	// Probe checks that the provider is reachable without running a query.
	Probe(ctx context.Context) error
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.PointingConfig, logger *zap.Logger) (Pointer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderLocal, "":
		return NewMoondreamLocal(cfg.Local, cfg.Timeout, logger), nil
	case config.ProviderCloud:
		return NewMoondreamCloud(cfg.Cloud, cfg.Timeout, logger)
	case config.ProviderGemini:
		return NewGemini(context.Background(), cfg.Gemini, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown pointing provider '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderLocal, config.ProviderCloud, config.ProviderGemini)
	}
}

// newLimiter returns nil when perSecond disables limiting.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// isTransport reports whether err means the provider was never reached or did not answer in time.
func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify wraps a provider failure in the browser error taxonomy.
func classify(provider, op string, err error) error {
	if isTransport(err) {
		return &browser.TransportError{Backend: provider, Op: op, Err: err}
	}
	return &browser.BackendError{Backend: provider, Op: op, Message: err.Error()}
}

func elapsed(start time.Time) zap.Field {
	return zap.Duration("duration", time.Since(start))
}
