package pointing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/network"
)

const (
	geminiName = "gemini"
	// geminiScale is the coordinate range Gemini uses for points.
	geminiScale = 1000.0
)

const geminiPrompt = `Point to %s in the image.
Answer with JSON only, in the form [{"point": [y, x], "label": "<short name>"}].
Coordinates are integers normalized to 0-1000. Answer [] if it is not visible.`

type geminiPoint struct {
	Point []float64 `json:"point"`
	Label string    `json:"label,omitempty"`
}

// Gemini points with a Gemini vision model.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Pointer = (*Gemini)(nil)

// NewGemini creates a Gemini provider. cfg.Endpoint overrides the API base URL.
func NewGemini(ctx context.Context, cfg config.GeminiConfig, timeout time.Duration, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set GLIMPSE_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingCredentials)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pointing.gemini")

	httpCfg := network.NewDefaultClientConfig(timeout)
	httpCfg.Logger = logger
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  network.NewClient(httpCfg),
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{
		client:  client,
		model:   cfg.Model,
		limiter: newLimiter(cfg.RateLimit),
		logger:  logger.With(zap.String("model", cfg.Model)),
	}, nil
}

func (g *Gemini) Name() string { return geminiName }

func (g *Gemini) Point(ctx context.Context, img Image, description string) (Result, error) {
	if err := wait(ctx, g.limiter); err != nil {
		return Result{}, err
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, mimeType),
			genai.NewPartFromText(fmt.Sprintf(geminiPrompt, description)),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		g.logger.Warn("Gemini point query failed", zap.Error(err))
		return Result{}, classify(geminiName, "point", err)
	}

	points, err := parseGeminiPoints(resp.Text())
	if err != nil {
		return Result{}, err
	}
	g.logger.Debug("Point query complete",
		zap.String("object", description),
		zap.Int("points", len(points)),
		zap.String("request_id", resp.ResponseID),
		elapsed(start),
	)
	return Result{Points: points, RequestID: resp.ResponseID}, nil
}

// parseGeminiPoints converts Gemini's [y, x] points in 0-1000 space to normalized points.
func parseGeminiPoints(text string) ([]Point, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty model output", ErrUnexpectedResponse)
	}

	var raw []geminiPoint
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: model output is not a point list: %v", ErrUnexpectedResponse, err)
	}

	points := make([]Point, 0, len(raw))
	for _, p := range raw {
		if len(p.Point) != 2 {
			return nil, fmt.Errorf("%w: point has %d coordinates", ErrUnexpectedResponse, len(p.Point))
		}
		y, x := p.Point[0], p.Point[1]
		if x < 0 || x > geminiScale || y < 0 || y > geminiScale {
			return nil, fmt.Errorf("%w: point [%g, %g] is outside 0-1000", ErrUnexpectedResponse, y, x)
		}
		points = append(points, Point{X: x / geminiScale, Y: y / geminiScale})
	}
	return points, nil
}

// Probe looks up the configured model.
func (g *Gemini) Probe(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return classify(geminiName, "probe", err)
	}
	return nil
}
