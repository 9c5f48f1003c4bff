package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
)

// Backend starts sessions on the remote browser service. The browser process
// belongs to the service, so instances never report a PID.
type Backend struct {
	client *Client
	logger *zap.Logger
}

var _ browser.Backend = (*Backend)(nil)

// New creates a service backend from the browser configuration.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewWithClient(NewClient(cfg.Service, logger), logger)
}

// NewWithClient creates a backend that shares an existing client.
func NewWithClient(client *Client, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{client: client, logger: logger.Named("service")}
}

func (b *Backend) Name() string { return backendName }

// Client exposes the underlying client for health checks.
func (b *Backend) Client() *Client { return b.client }

var _ browser.URLStarter = (*Backend)(nil)

// Start asks the service for a new session on a blank page.
func (b *Backend) Start(ctx context.Context) (browser.Instance, error) {
	inst, _, err := b.StartAt(ctx, browser.BlankPage)
	return inst, err
}

// StartAt opens the session directly on url, in the launch request itself.
func (b *Backend) StartAt(ctx context.Context, url string) (browser.Instance, string, error) {
	resp, err := b.client.launch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	b.logger.Info("Remote browser session opened", zap.String("session_id", resp.SessionID), zap.String("url", resp.CurrentURL))
	return &Instance{
		id:     resp.SessionID,
		client: b.client,
		logger: b.logger.With(zap.String("session_id", resp.SessionID)),
	}, resp.CurrentURL, nil
}

// Instance is one session on the browser service.
type Instance struct {
	id     string
	client *Client
	logger *zap.Logger

	mu       sync.Mutex
	settings browser.PageSettings
	closed   bool
}

var _ browser.Instance = (*Instance)(nil)

func (i *Instance) ID() string { return i.id }
func (i *Instance) PID() int   { return 0 }

// Configure records the settings. The service applies its own viewport and
// locale, and there is no endpoint to change them.
func (i *Instance) Configure(_ context.Context, s browser.PageSettings) error {
	i.mu.Lock()
	i.settings = s
	i.mu.Unlock()
	i.logger.Debug("Page settings are managed by the browser service", zap.Int("width", s.Width), zap.Int("height", s.Height))
	return nil
}

func (i *Instance) Navigate(ctx context.Context, url string) (string, error) {
	resp, err := i.client.navigate(ctx, i.id, url)
	if err != nil {
		return "", err
	}
	if resp.CurrentURL != "" {
		return resp.CurrentURL, nil
	}
	return resp.TargetURL, nil
}

func (i *Instance) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := i.client.screenshot(ctx, i.id)
	if err != nil {
		return nil, err
	}
	data, err := decodeScreenshot(resp.ScreenshotBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot is not valid base64: %v", ErrUnexpectedResponse, err)
	}
	return data, nil
}

// decodeScreenshot accepts raw base64 or a data URI.
func decodeScreenshot(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func (i *Instance) Click(ctx context.Context, x, y int) error {
	return i.client.click(ctx, i.id, x, y)
}

func (i *Instance) Type(ctx context.Context, text string) error {
	return i.client.typeText(ctx, i.id, text)
}

func (i *Instance) Scroll(ctx context.Context, direction browser.Direction, amount int) error {
	return i.client.scroll(ctx, i.id, direction, amount)
}

// Alive reports false when the service no longer knows the session or says it is closed.
func (i *Instance) Alive(ctx context.Context) (bool, error) {
	resp, err := i.client.status(ctx, i.id)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(resp.Status) {
	case "closed", "inactive", "not_found":
		return false, nil
	}
	return true, nil
}

// Close ends the session on the service. A session the service has already
// forgotten counts as closed.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	err := i.client.close(ctx, i.id)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to close remote session: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var be *browser.BackendError
	return errors.As(err, &be) && be.StatusCode == http.StatusNotFound
}
