// Package service drives a remote browser automation service over its REST API.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/network"
)

const backendName = "service"

// maxResponseBytes caps how much of a response body is read. Screenshots are
// the largest payload.
const maxResponseBytes = 64 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnexpectedResponse is returned when a 2xx response is missing a required field or is not JSON.
var ErrUnexpectedResponse = errors.New("unexpected response from browser service")

// -- Wire records, one pair per endpoint --

type launchRequest struct {
	URL string `json:"url"`
}

type launchResponse struct {
	SessionID  string `json:"sessionId"`
	CurrentURL string `json:"currentUrl"`
}

func (r *launchResponse) validate() error { return requireField("sessionId", r.SessionID) }

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type statusResponse struct {
	SessionID  string `json:"sessionId"`
	CurrentURL string `json:"currentUrl"`
	Status     string `json:"status"`
}

func (r *statusResponse) validate() error { return requireField("status", r.Status) }

type screenshotResponse struct {
	ScreenshotBase64 string `json:"screenshot_base64"`
	CurrentURL       string `json:"currentUrl"`
	Timestamp        string `json:"timestamp"`
}

func (r *screenshotResponse) validate() error {
	return requireField("screenshot_base64", r.ScreenshotBase64)
}

type markedScreenshotRequest struct {
	SessionID string         `json:"sessionId"`
	Options   map[string]any `json:"options"`
}

// MarkedScreenshot is a screenshot with the page's interactive elements
// highlighted, plus the service's description of each marked element.
type MarkedScreenshot struct {
	Image     string           `json:"image"`
	Elements  []map[string]any `json:"elements"`
	SessionID string           `json:"sessionId"`
	Timestamp string           `json:"timestamp"`
}

func (m *MarkedScreenshot) validate() error { return requireField("image", m.Image) }

type navigateRequest struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type navigateResponse struct {
	TargetURL  string `json:"targetUrl"`
	CurrentURL string `json:"currentUrl"`
	SessionID  string `json:"sessionId"`
}

func (r *navigateResponse) validate() error { return nil }

type clickRequest struct {
	SessionID string `json:"sessionId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

type typeRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type scrollRequest struct {
	SessionID string `json:"sessionId"`
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

// actionResponse is shared by click, type, scroll and close. close only
// confirms, so no field is required.
type actionResponse struct {
	SessionID string `json:"sessionId"`
	Success   *bool  `json:"success,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (r *actionResponse) validate() error { return nil }

// Health is the body of GET /health.
type Health struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	Timestamp      string `json:"timestamp"`
}

func (h *Health) validate() error { return requireField("status", h.Status) }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type validator interface {
	validate() error
}

func requireField(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %q", ErrUnexpectedResponse, field)
	}
	return nil
}

// Client is a typed client for the browser service endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the service at cfg.URL.
func NewClient(cfg config.BrowserServiceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser_service")

	httpCfg := network.NewDefaultClientConfig(cfg.Timeout)
	httpCfg.Logger = logger
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: network.NewClient(httpCfg),
		logger:     logger,
	}
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) launch(ctx context.Context, url string) (launchResponse, error) {
	var resp launchResponse
	err := c.do(ctx, http.MethodPost, "/browser/launch", launchRequest{URL: url}, &resp)
	return resp, err
}

func (c *Client) status(ctx context.Context, sessionID string) (statusResponse, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodPost, "/browser/status", sessionRequest{SessionID: sessionID}, &resp)
	return resp, err
}

func (c *Client) screenshot(ctx context.Context, sessionID string) (screenshotResponse, error) {
	var resp screenshotResponse
	err := c.do(ctx, http.MethodPost, "/browser/screenshot", sessionRequest{SessionID: sessionID}, &resp)
	return resp, err
}

// ScreenshotMarked captures the session's page with interactive elements
// marked. A nil options map is sent as an empty object.
func (c *Client) ScreenshotMarked(ctx context.Context, sessionID string, options map[string]any) (MarkedScreenshot, error) {
	if options == nil {
		options = map[string]any{}
	}
	var resp MarkedScreenshot
	err := c.do(ctx, http.MethodPost, "/browser/screenshot-marked", markedScreenshotRequest{SessionID: sessionID, Options: options}, &resp)
	if resp.Elements == nil {
		resp.Elements = []map[string]any{}
	}
	return resp, err
}

func (c *Client) navigate(ctx context.Context, sessionID, url string) (navigateResponse, error) {
	var resp navigateResponse
	err := c.do(ctx, http.MethodPost, "/browser/navigate", navigateRequest{SessionID: sessionID, URL: url}, &resp)
	return resp, err
}

func (c *Client) click(ctx context.Context, sessionID string, x, y int) error {
	return c.do(ctx, http.MethodPost, "/browser/click", clickRequest{SessionID: sessionID, X: x, Y: y}, &actionResponse{})
}

func (c *Client) typeText(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/browser/type", typeRequest{SessionID: sessionID, Text: text}, &actionResponse{})
}

func (c *Client) scroll(ctx context.Context, sessionID string, direction browser.Direction, amount int) error {
	req := scrollRequest{SessionID: sessionID, Direction: string(direction), Amount: amount}
	return c.do(ctx, http.MethodPost, "/browser/scroll", req, &actionResponse{})
}

func (c *Client) close(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/browser/close", sessionRequest{SessionID: sessionID}, &actionResponse{})
}

// do sends one request and decodes a 2xx body into out. Connection failures
// and timeouts become *browser.TransportError, non-2xx responses become
// *browser.BackendError carrying the service's message.
func (c *Client) do(ctx context.Context, method, path string, in any, out validator) error {
	op := strings.TrimPrefix(path, "/")

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Browser service unreachable", zap.String("op", op), zap.Error(err))
		return &browser.TransportError{Backend: backendName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &browser.TransportError{Backend: backendName, Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.logger.Debug("Browser service call complete",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &browser.BackendError{
			Backend:    backendName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Header.Get("Content-Type"), raw),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, op, err)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// errorMessage extracts the service's error text. JSON bodies carry it in
// "error"; anything else is used verbatim.
func errorMessage(contentType string, raw []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
		var eb errorBody
		if err := json.Unmarshal(raw, &eb); err == nil {
			switch {
			case eb.Error != "":
				return eb.Error
			case eb.Message != "":
				return eb.Message
			}
		}
		return "Unknown error"
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "Unknown error"
}
