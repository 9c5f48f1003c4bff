package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/browser/service"
	"github.com/xkilldash9x/glimpse-cli/internal/locator"
)

// Browser is the slice of *browser.Manager the tools drive.
type Browser interface {
	Launch(ctx context.Context, url string) (browser.Session, error)
	Status(ctx context.Context) (*browser.Session, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Navigate(ctx context.Context, url string) (string, error)
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, direction browser.Direction, amount int) error
	Close(ctx context.Context) (bool, error)
}

// ElementLocator resolves descriptions to pixels. *locator.Locator implements it.
type ElementLocator interface {
	Locate(ctx context.Context, description string) (locator.Coordinate, bool, error)
}

// HealthChecker probes the browser service.
type HealthChecker interface {
	Health(ctx context.Context) (service.Health, error)
}

const noSessionText = "No active browser session. Please launch a browser first."

// RegisterBrowserTools adds the browser tools to reg. loc and health may be
// nil, in which case the tools that need them are not registered.
func RegisterBrowserTools(reg *Registry, b Browser, loc ElementLocator, health HealthChecker) error {
	bt := &browserTools{browser: b, locator: loc, health: health, now: time.Now}

	type tool struct {
		def     Definition
		handler Handler
	}
	tools := []tool{
		{Definition{
			Name:        "launch_browser",
			Description: "Launch a stealth browser and open a URL. Replaces any browser that is already open.",
			InputSchema: objectSchema(map[string]any{
				"url": prop("string", "URL to open after launch. Defaults to about:blank."),
			}),
		}, bt.launch},
		{Definition{
			Name:        "close_browser",
			Description: "Close the active browser session and stop its processes.",
		}, bt.close},
		{Definition{
			Name:        "get_browser_status",
			Description: "Report the active browser session, if the browser is still running.",
		}, bt.status},
		{Definition{
			Name:        "analyze_screen",
			Description: "Take a screenshot of the current page for visual analysis.",
		}, bt.analyzeScreen},
		{Definition{
			Name:        "navigate_to_url",
			Description: "Navigate the active browser to a URL.",
			InputSchema: objectSchema(map[string]any{
				"url": prop("string", "Absolute URL to load."),
			}, "url"),
		}, bt.navigate},
		{Definition{
			Name:        "click",
			Description: "Click at pixel coordinates on the current page.",
			InputSchema: objectSchema(map[string]any{
				"x": prop("integer", "Horizontal pixel offset from the left edge."),
				"y": prop("integer", "Vertical pixel offset from the top edge."),
			}, "x", "y"),
		}, bt.click},
		{Definition{
			Name:        "type_text",
			Description: "Type text into the focused element.",
			InputSchema: objectSchema(map[string]any{
				"text": prop("string", "Text to type."),
			}, "text"),
		}, bt.typeText},
		{Definition{
			Name:        "scroll",
			Description: "Scroll the current page up or down.",
			InputSchema: objectSchema(map[string]any{
				"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}, "description": "Scroll direction. Defaults to down."},
				"amount":    prop("integer", fmt.Sprintf("Number of wheel steps. Defaults to %d.", browser.DefaultScrollAmount)),
			}),
		}, bt.scroll},
		{Definition{
			Name:        "compare_pages",
			Description: "Visit two or more URLs in turn and capture a screenshot of each for side by side comparison.",
			InputSchema: objectSchema(map[string]any{
				"urls":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 2, "description": "URLs to visit, in order."},
				"focus": prop("string", "What the comparison is about. Defaults to overall differences."),
			}, "urls"),
		}, bt.comparePages},
	}

	if loc != nil {
		tools = append(tools,
			tool{Definition{
				Name:        "locate_element",
				Description: "Find an element on screen from a plain language description and return its pixel coordinates.",
				InputSchema: objectSchema(map[string]any{
					"description": prop("string", "What to look for, e.g. 'the blue Sign in button'."),
				}, "description"),
			}, bt.locate},
			tool{Definition{
				Name:        "click_element",
				Description: "Find an element on screen from a plain language description and click it.",
				InputSchema: objectSchema(map[string]any{
					"description": prop("string", "What to click, e.g. 'the search box'."),
				}, "description"),
			}, bt.clickElement},
		)
	}
	if health != nil {
		tools = append(tools, tool{Definition{
			Name:        "browser_health",
			Description: "Check that the browser automation service is up.",
		}, bt.serviceHealth})
	}

	for _, t := range tools {
		if err := reg.Register(t.def, t.handler); err != nil {
			return err
		}
	}
	return nil
}

type browserTools struct {
	browser Browser
	locator ElementLocator
	health  HealthChecker
	now     func() time.Time
}

// failure renders err, turning a missing session into guidance.
func failure(action string, err error) Result {
	if errors.Is(err, browser.ErrNoActiveSession) {
		return Fail(noSessionText)
	}
	if msg, ok := browser.BackendMessage(err); ok {
		return Fail("Failed to %s: %s", action, msg)
	}
	return Fail("Failed to %s: %v", action, err)
}

func (t *browserTools) launch(ctx context.Context, args map[string]any) Result {
	url, err := stringArg(args, "url", browser.BlankPage)
	if err != nil {
		return Fail("%v", err)
	}
	s, err := t.browser.Launch(ctx, url)
	if err != nil {
		return failure("launch browser", err)
	}
	return Succeed("Browser launched successfully\n• Session ID: %s\n• Current URL: %s\n• Backend: %s", s.ID, s.URL, s.Backend)
}

func (t *browserTools) close(ctx context.Context, _ map[string]any) Result {
	closed, err := t.browser.Close(ctx)
	if err != nil {
		return failure("close browser", err)
	}
	if !closed {
		return Info("No active browser session to close")
	}
	return Succeed("Browser session closed successfully")
}

func (t *browserTools) status(ctx context.Context, _ map[string]any) Result {
	s, err := t.browser.Status(ctx)
	if err != nil {
		return failure("get browser status", err)
	}
	if s == nil {
		return Result{Success: true, Text: "📊 No active browser session"}
	}
	var b strings.Builder
	b.WriteString("📊 Active Browser Session:\n")
	fmt.Fprintf(&b, "• Session ID: %s\n", s.ID)
	fmt.Fprintf(&b, "• Current URL: %s\n", s.URL)
	fmt.Fprintf(&b, "• Backend: %s\n", s.Backend)
	if s.PID > 0 {
		fmt.Fprintf(&b, "• PID: %d\n", s.PID)
	}
	fmt.Fprintf(&b, "• Uptime: %s", t.now().Sub(s.CreatedAt).Round(time.Second))
	return Result{Success: true, Text: b.String()}
}

func (t *browserTools) analyzeScreen(ctx context.Context, _ map[string]any) Result {
	shot, err := t.browser.Screenshot(ctx)
	if err != nil {
		res := failure("capture screenshot", err)
		res.Record = &ScreenRecord{Type: "error", Message: strings.TrimPrefix(res.Text, failureMarker)}
		return res
	}
	encoded := base64.StdEncoding.EncodeToString(shot)
	msg := fmt.Sprintf("Screenshot captured (%d bytes)", len(shot))
	res := Succeed("%s", msg)
	res.Record = &ScreenRecord{Type: "screenshot", Message: msg, ScreenshotBase64: &encoded}
	return res
}

func (t *browserTools) navigate(ctx context.Context, args map[string]any) Result {
	url, err := requiredString(args, "url")
	if err != nil {
		return Fail("%v", err)
	}
	current, err := t.browser.Navigate(ctx, url)
	if err != nil {
		return failure("navigate", err)
	}
	return Succeed("Navigated to %s\n• Current URL: %s", url, current)
}

func (t *browserTools) click(ctx context.Context, args map[string]any) Result {
	x, err := intArg(args, "x", 0, true)
	if err != nil {
		return Fail("%v", err)
	}
	y, err := intArg(args, "y", 0, true)
	if err != nil {
		return Fail("%v", err)
	}
	if err := t.browser.Click(ctx, x, y); err != nil {
		return failure("click", err)
	}
	return Succeed("Clicked at (%d, %d)", x, y)
}

func (t *browserTools) typeText(ctx context.Context, args map[string]any) Result {
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return Fail("argument %q is required", "text")
	}
	if err := t.browser.Type(ctx, text); err != nil {
		return failure("type text", err)
	}
	return Succeed("Typed %d characters", len([]rune(text)))
}

func (t *browserTools) scroll(ctx context.Context, args map[string]any) Result {
	raw, err := stringArg(args, "direction", string(browser.ScrollDown))
	if err != nil {
		return Fail("%v", err)
	}
	direction, err := browser.ParseDirection(raw)
	if err != nil {
		return Fail("Direction must be 'up' or 'down'")
	}
	amount, err := intArg(args, "amount", browser.DefaultScrollAmount, false)
	if err != nil {
		return Fail("%v", err)
	}
	if err := t.browser.Scroll(ctx, direction, amount); err != nil {
		return failure("scroll", err)
	}
	if amount == 0 {
		amount = browser.DefaultScrollAmount
	}
	return Succeed("Scrolled %s by %d steps", direction, amount)
}

func (t *browserTools) locate(ctx context.Context, args map[string]any) Result {
	c, found, res := t.find(ctx, args)
	if !found {
		return res
	}
	return Succeed("Found %s at pixel (%d, %d)\n• Normalized: (%.3f, %.3f)\n• Screenshot: %dx%d",
		c.description, c.X, c.Y, c.NormX, c.NormY, c.Width, c.Height)
}

func (t *browserTools) clickElement(ctx context.Context, args map[string]any) Result {
	c, found, res := t.find(ctx, args)
	if !found {
		return res
	}
	if err := t.browser.Click(ctx, c.X, c.Y); err != nil {
		return failure("click element", err)
	}
	return Succeed("Clicked %s at pixel (%d, %d)\n• Normalized: (%.3f, %.3f)",
		c.description, c.X, c.Y, c.NormX, c.NormY)
}

type located struct {
	locator.Coordinate
	description string
}

// find runs the locator. When found is false, res is the result to return.
func (t *browserTools) find(ctx context.Context, args map[string]any) (located, bool, Result) {
	description, err := requiredString(args, "description")
	if err != nil {
		return located{}, false, Fail("%v", err)
	}
	c, found, err := t.locator.Locate(ctx, description)
	if err != nil {
		return located{}, false, failure("locate element", err)
	}
	if !found {
		return located{}, false, Result{
			Success: false,
			Text:    fmt.Sprintf("🔍 Could not find %q on the current screen. Try describing it differently, scrolling, or taking a new screenshot.", description),
		}
	}
	return located{Coordinate: c, description: fmt.Sprintf("%q", description)}, true, Result{}
}

func (t *browserTools) serviceHealth(ctx context.Context, _ map[string]any) Result {
	h, err := t.health.Health(ctx)
	if err != nil {
		return failure("reach browser service", err)
	}
	return Succeed("Browser service is %s\n• Active sessions: %d\n• Timestamp: %s", h.Status, h.ActiveSessions, h.Timestamp)
}

func (t *browserTools) comparePages(ctx context.Context, args map[string]any) Result {
	urls, err := stringsArg(args, "urls")
	if err != nil {
		return Fail("%v", err)
	}
	if len(urls) < 2 {
		return Fail("Need at least 2 URLs to compare")
	}
	focus, err := stringArg(args, "focus", "overall differences")
	if err != nil {
		return Fail("%v", err)
	}

	pages := make([]PageCapture, 0, len(urls))
	captured := 0
	for i, url := range urls {
		page := PageCapture{Index: i + 1, URL: url}
		current, err := t.browser.Navigate(ctx, url)
		if errors.Is(err, browser.ErrNoActiveSession) {
			return Fail(noSessionText)
		}
		if current != "" {
			page.URL = current
		}
		if err == nil {
			var shot []byte
			if shot, err = t.browser.Screenshot(ctx); err == nil {
				encoded := base64.StdEncoding.EncodeToString(shot)
				page.ScreenshotBase64 = &encoded
				captured++
			}
		}
		if err != nil {
			page.Error = strings.TrimPrefix(failure("capture "+url, err).Text, failureMarker)
		}
		pages = append(pages, page)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Multi-Page Comparison\n\n📊 Comparison Focus: %s\n🌐 Pages Captured: %d of %d\n", focus, captured, len(pages))
	for _, p := range pages {
		fmt.Fprintf(&b, "\n🔗 Page %d: %s\n", p.Index, p.URL)
		if p.Error != "" {
			fmt.Fprintf(&b, "❌ %s\n", p.Error)
		} else {
			fmt.Fprintf(&b, "📸 Screenshot captured\n")
		}
	}
	return Result{Success: captured > 0, Text: strings.TrimRight(b.String(), "\n"), Pages: pages}
}
