package pointing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/network"
)

const (
	moondreamLocalName = "moondream-local"
	moondreamCloudName = "moondream-cloud"
	pointPath          = "/v1/point"
	authHeader         = "X-Moondream-Auth"
	maxPointBody       = 1 << 20
)

type moondreamRequest struct {
	ImageURL string `json:"image_url"`
	Object   string `json:"object"`
}

type moondreamResponse struct {
	// Points is a pointer so a missing field can be told apart from an empty list.
	Points    *[]Point `json:"points"`
	RequestID string   `json:"request_id,omitempty"`
}

func (r *moondreamResponse) validate() error {
	if r.Points == nil {
		return fmt.Errorf("%w: missing \"points\"", ErrUnexpectedResponse)
	}
	for _, p := range *r.Points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("%w: point (%g, %g) is not normalized", ErrUnexpectedResponse, p.X, p.Y)
		}
	}
	return nil
}

// Moondream talks to the Moondream point endpoint, either a locally hosted
// server or the cloud API. Only the base URL and the auth header differ.
type Moondream struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ Pointer = (*Moondream)(nil)

// NewMoondreamLocal creates a provider for a self-hosted Moondream server.
func NewMoondreamLocal(cfg config.LocalPointingConfig, timeout time.Duration, logger *zap.Logger) *Moondream {
	return newMoondream(moondreamLocalName, cfg.URL, "", timeout, 0, logger)
}

// NewMoondreamCloud creates a provider for the Moondream cloud API.
func NewMoondreamCloud(cfg config.CloudPointingConfig, timeout time.Duration, logger *zap.Logger) (*Moondream, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set GLIMPSE_MOONDREAM_API_KEY or MOONDREAM_API_KEY", ErrMissingCredentials)
	}
	return newMoondream(moondreamCloudName, cfg.URL, cfg.APIKey, timeout, cfg.RateLimit, logger), nil
}

func newMoondream(name, baseURL, apiKey string, timeout time.Duration, rateLimit float64, logger *zap.Logger) *Moondream {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pointing.moondream").With(zap.String("provider", name))
	httpCfg := network.NewDefaultClientConfig(timeout)
	httpCfg.Logger = logger
	return &Moondream{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: network.NewClient(httpCfg),
		limiter:    newLimiter(rateLimit),
		logger:     logger,
	}
}

func (m *Moondream) Name() string { return m.name }

func (m *Moondream) Point(ctx context.Context, img Image, description string) (Result, error) {
	if err := wait(ctx, m.limiter); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(moondreamRequest{ImageURL: img.DataURI(), Object: description})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal point request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+pointPath, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create point request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set(authHeader, m.apiKey)
	}

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("Pointing service unreachable", zap.Error(err))
		return Result{}, &browser.TransportError{Backend: m.name, Op: "point", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPointBody))
	if err != nil {
		return Result{}, &browser.TransportError{Backend: m.name, Op: "point", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		m.logger.Error("Pointing service returned error status", zap.Int("status", resp.StatusCode), zap.ByteString("response", raw))
		return Result{}, &browser.BackendError{Backend: m.name, Op: "point", StatusCode: resp.StatusCode, Message: moondreamError(raw)}
	}

	var decoded moondreamResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if err := decoded.validate(); err != nil {
		return Result{}, err
	}

	m.logger.Debug("Point query complete",
		zap.String("object", description),
		zap.Int("points", len(*decoded.Points)),
		zap.String("request_id", decoded.RequestID),
		elapsed(start),
	)
	return Result{Points: *decoded.Points, RequestID: decoded.RequestID}, nil
}

func moondreamError(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "Unknown error"
}

// Probe treats any HTTP answer from the server as reachable.
func (m *Moondream) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set(authHeader, m.apiKey)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &browser.TransportError{Backend: m.name, Op: "probe", Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
