package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/browser/service"
	"github.com/xkilldash9x/glimpse-cli/internal/locator"
)

// fakeBrowser mimics the manager's session rules without a backend.
type fakeBrowser struct {
	session  *browser.Session
	shot     []byte
	err      error
	closeErr error
	clicks   [][2]int
	typed    []string
	scrolls  []string
}

func (f *fakeBrowser) Launch(_ context.Context, url string) (browser.Session, error) {
	if f.err != nil {
		return browser.Session{}, f.err
	}
	f.session = &browser.Session{ID: "s-1", URL: url, Backend: "fake", PID: 42, CreatedAt: time.Now().Add(-time.Minute)}
	return *f.session, nil
}

func (f *fakeBrowser) Status(context.Context) (*browser.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeBrowser) active() error {
	if f.session == nil {
		return browser.ErrNoActiveSession
	}
	return f.err
}

func (f *fakeBrowser) Screenshot(context.Context) ([]byte, error) {
	if err := f.active(); err != nil {
		return nil, err
	}
	return f.shot, nil
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) (string, error) {
	if err := f.active(); err != nil {
		return "", err
	}
	f.session.URL = url + "/"
	return f.session.URL, nil
}

func (f *fakeBrowser) Click(_ context.Context, x, y int) error {
	if err := f.active(); err != nil {
		return err
	}
	f.clicks = append(f.clicks, [2]int{x, y})
	return nil
}

func (f *fakeBrowser) Type(_ context.Context, text string) error {
	if err := f.active(); err != nil {
		return err
	}
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeBrowser) Scroll(_ context.Context, d browser.Direction, amount int) error {
	if err := f.active(); err != nil {
		return err
	}
	f.scrolls = append(f.scrolls, fmt.Sprintf("%s:%d", d, amount))
	return nil
}

func (f *fakeBrowser) Close(context.Context) (bool, error) {
	if f.session == nil {
		return false, nil
	}
	f.session = nil
	return true, f.closeErr
}

type fakeLocator struct {
	coord locator.Coordinate
	found bool
	err   error
}

func (f *fakeLocator) Locate(context.Context, string) (locator.Coordinate, bool, error) {
	return f.coord, f.found, f.err
}

type fakeHealth struct {
	h   service.Health
	err error
}

func (f *fakeHealth) Health(context.Context) (service.Health, error) { return f.h, f.err }

func setup(t *testing.T, loc ElementLocator, health HealthChecker) (*Registry, *fakeBrowser) {
	t.Helper()
	reg := NewRegistry(zaptest.NewLogger(t))
	b := &fakeBrowser{shot: []byte("png")}
	require.NoError(t, RegisterBrowserTools(reg, b, loc, health))
	return reg, b
}

func invoke(t *testing.T, reg *Registry, name string, args map[string]any) Result {
	t.Helper()
	res, err := reg.Invoke(context.Background(), name, args)
	require.NoError(t, err)
	return res
}

func TestRegistry_Basics(t *testing.T) {
	reg := NewRegistry(nil)
	ok := func(context.Context, map[string]any) Result { return Succeed("ok") }

	require.NoError(t, reg.Register(Definition{Name: "b"}, ok))
	require.NoError(t, reg.Register(Definition{Name: "a", Description: "first"}, ok))
	assert.ErrorIs(t, reg.Register(Definition{Name: "a"}, ok), ErrToolExists)
	assert.ErrorIs(t, reg.Register(Definition{}, ok), ErrToolNameEmpty)
	assert.ErrorIs(t, reg.Register(Definition{Name: "c"}, nil), ErrNilHandler)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "object", defs[1].InputSchema["type"], "missing schemas default to an empty object")

	_, err := reg.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolUnregistered)
	_, err = reg.Invoke(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrToolNameEmpty)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reg.Invoke(ctx, "a", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_RecoversPanics(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, reg.Register(Definition{Name: "boom"}, func(context.Context, map[string]any) Result {
		panic("kaboom")
	}))
	res, err := reg.Invoke(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "❌ Unexpected error in boom: kaboom", res.Text)
}

func TestRegisterBrowserTools_OptionalTools(t *testing.T) {
	reg, _ := setup(t, nil, nil)
	names := func(r *Registry) []string {
		var out []string
		for _, d := range r.Definitions() {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, []string{"analyze_screen", "click", "close_browser", "compare_pages", "get_browser_status", "launch_browser", "navigate_to_url", "scroll", "type_text"}, names(reg))

	full, _ := setup(t, &fakeLocator{}, &fakeHealth{})
	assert.Contains(t, names(full), "locate_element")
	assert.Contains(t, names(full), "click_element")
	assert.Contains(t, names(full), "browser_health")
}

func TestBrowserTools_Lifecycle(t *testing.T) {
	reg, b := setup(t, nil, nil)

	res := invoke(t, reg, "get_browser_status", nil)
	assert.Equal(t, Result{Success: true, Text: "📊 No active browser session"}, res)

	res = invoke(t, reg, "close_browser", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "ℹ️ No active browser session to close", res.Text)

	res = invoke(t, reg, "launch_browser", nil)
	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Text, "✅ Browser launched successfully"))
	assert.Contains(t, res.Text, "about:blank")

	res = invoke(t, reg, "get_browser_status", nil)
	assert.Contains(t, res.Text, "• Session ID: s-1")
	assert.Contains(t, res.Text, "• PID: 42")
	assert.Contains(t, res.Text, "• Uptime: 1m0s")

	res = invoke(t, reg, "navigate_to_url", map[string]any{"url": "https://example.com"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Text, "https://example.com/")

	res = invoke(t, reg, "click", map[string]any{"x": 10.0, "y": "20"})
	assert.Equal(t, "✅ Clicked at (10, 20)", res.Text)
	assert.Equal(t, [][2]int{{10, 20}}, b.clicks)

	res = invoke(t, reg, "type_text", map[string]any{"text": "héllo"})
	assert.Equal(t, "✅ Typed 5 characters", res.Text)

	res = invoke(t, reg, "scroll", nil)
	assert.Equal(t, "✅ Scrolled down by 3 steps", res.Text)
	res = invoke(t, reg, "scroll", map[string]any{"direction": "UP", "amount": 1})
	assert.Equal(t, "✅ Scrolled up by 1 steps", res.Text)
	assert.Equal(t, []string{"down:3", "up:1"}, b.scrolls)

	res = invoke(t, reg, "close_browser", nil)
	assert.Equal(t, "✅ Browser session closed successfully", res.Text)
}

func TestBrowserTools_ArgumentErrors(t *testing.T) {
	reg, _ := setup(t, nil, nil)
	invoke(t, reg, "launch_browser", nil)

	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"navigate_to_url", nil, `❌ argument "url" is required`},
		{"click", map[string]any{"x": 1}, `❌ argument "y" is required`},
		{"click", map[string]any{"x": 1.5, "y": 2}, `❌ argument "x" must be a whole number`},
		{"type_text", map[string]any{"text": 3}, `❌ argument "text" is required`},
		{"scroll", map[string]any{"direction": "sideways"}, "❌ Direction must be 'up' or 'down'"},
		{"launch_browser", map[string]any{"url": 7}, `❌ argument "url" must be a string`},
	}
	for _, tc := range cases {
		res := invoke(t, reg, tc.tool, tc.args)
		assert.False(t, res.Success, tc.tool)
		assert.Equal(t, tc.want, res.Text, tc.tool)
	}
}

func TestBrowserTools_NoSessionGuidance(t *testing.T) {
	reg, _ := setup(t, &fakeLocator{err: fmt.Errorf("failed to capture screenshot: %w", browser.ErrNoActiveSession)}, nil)

	for _, name := range []string{"navigate_to_url", "click", "type_text", "scroll", "locate_element"} {
		res := invoke(t, reg, name, map[string]any{"url": "https://x", "x": 1, "y": 1, "text": "a", "description": "d"})
		assert.False(t, res.Success, name)
		assert.Equal(t, "❌ "+noSessionText, res.Text, name)
	}
}

func TestBrowserTools_AnalyzeScreen(t *testing.T) {
	reg, _ := setup(t, nil, nil)

	res := invoke(t, reg, "analyze_screen", nil)
	assert.False(t, res.Success)
	require.NotNil(t, res.Record)
	assert.Equal(t, "error", res.Record.Type)
	assert.Nil(t, res.Record.ScreenshotBase64)
	assert.Equal(t, noSessionText, res.Record.Message)

	invoke(t, reg, "launch_browser", nil)
	res = invoke(t, reg, "analyze_screen", nil)
	require.True(t, res.Success)
	require.NotNil(t, res.Record)
	assert.Equal(t, "screenshot", res.Record.Type)
	require.NotNil(t, res.Record.ScreenshotBase64)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), *res.Record.ScreenshotBase64)
}

func TestBrowserTools_LaunchFailureKeepsBackendMessage(t *testing.T) {
	reg, b := setup(t, nil, nil)
	b.err = &browser.BackendError{Backend: "service", Op: "browser/launch", StatusCode: 500, Message: "Browser crashed"}

	res := invoke(t, reg, "launch_browser", nil)
	assert.Equal(t, "❌ Failed to launch browser: Browser crashed", res.Text)

	b.err = &browser.TransportError{Backend: "service", Op: "browser/launch", Err: errors.New("connection refused")}
	res = invoke(t, reg, "launch_browser", nil)
	assert.Equal(t, "❌ Failed to launch browser: service browser/launch: cannot reach backend: connection refused", res.Text)
}

func TestBrowserTools_LocateAndClickElement(t *testing.T) {
	coord := locator.Coordinate{NormX: 0.5, NormY: 0.25, X: 640, Y: 180, Width: 1280, Height: 720}
	reg, b := setup(t, &fakeLocator{coord: coord, found: true}, nil)
	invoke(t, reg, "launch_browser", nil)

	res := invoke(t, reg, "locate_element", map[string]any{"description": "login"})
	require.True(t, res.Success)
	assert.Contains(t, res.Text, `Found "login" at pixel (640, 180)`)
	assert.Contains(t, res.Text, "(0.500, 0.250)")
	assert.Contains(t, res.Text, "1280x720")

	res = invoke(t, reg, "click_element", map[string]any{"description": "login"})
	require.True(t, res.Success)
	assert.Equal(t, [][2]int{{640, 180}}, b.clicks)

	res = invoke(t, reg, "locate_element", nil)
	assert.Equal(t, `❌ argument "description" is required`, res.Text)
}

func TestBrowserTools_ElementNotFound(t *testing.T) {
	reg, b := setup(t, &fakeLocator{found: false}, nil)
	invoke(t, reg, "launch_browser", nil)

	res := invoke(t, reg, "click_element", map[string]any{"description": "a unicorn"})
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Text, `🔍 Could not find "a unicorn"`))
	assert.Empty(t, b.clicks, "nothing is clicked when the element is not found")
}

func TestBrowserTools_Health(t *testing.T) {
	reg, _ := setup(t, nil, &fakeHealth{h: service.Health{Status: "healthy", ActiveSessions: 2, Timestamp: "now"}})
	res := invoke(t, reg, "browser_health", nil)
	assert.Equal(t, "✅ Browser service is healthy\n• Active sessions: 2\n• Timestamp: now", res.Text)

	reg, _ = setup(t, nil, &fakeHealth{err: &browser.TransportError{Backend: "service", Op: "health", Err: errors.New("refused")}})
	res = invoke(t, reg, "browser_health", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Text, "❌ Failed to reach browser service")
}

func TestBrowserTools_ComparePages(t *testing.T) {
	reg, b := setup(t, nil, nil)

	res := invoke(t, reg, "compare_pages", map[string]any{"urls": []any{"https://a.example", "https://b.example"}})
	assert.False(t, res.Success)
	assert.Equal(t, "❌ "+noSessionText, res.Text)

	invoke(t, reg, "launch_browser", nil)

	res = invoke(t, reg, "compare_pages", map[string]any{"urls": []any{"https://a.example"}})
	assert.Equal(t, "❌ Need at least 2 URLs to compare", res.Text)

	res = invoke(t, reg, "compare_pages", map[string]any{"urls": 7})
	assert.Equal(t, `❌ argument "urls" must be a list of strings`, res.Text)

	res = invoke(t, reg, "compare_pages", map[string]any{
		"urls":  []any{"https://a.example", "https://b.example"},
		"focus": "pricing",
	})
	require.True(t, res.Success)
	assert.Contains(t, res.Text, "📊 Comparison Focus: pricing")
	assert.Contains(t, res.Text, "🌐 Pages Captured: 2 of 2")
	assert.Contains(t, res.Text, "🔗 Page 2: https://b.example/")
	require.Len(t, res.Pages, 2)
	assert.Equal(t, 1, res.Pages[0].Index)
	assert.Equal(t, "https://a.example/", res.Pages[0].URL)
	require.NotNil(t, res.Pages[1].ScreenshotBase64)
	assert.Equal(t, base64.StdEncoding.EncodeToString(b.shot), *res.Pages[1].ScreenshotBase64)
	assert.Equal(t, "https://b.example/", b.session.URL, "the browser is left on the last page")
}

func TestBrowserTools_ComparePagesReportsFailedPages(t *testing.T) {
	reg, b := setup(t, nil, nil)
	invoke(t, reg, "launch_browser", nil)
	b.err = &browser.BackendError{Backend: "fake", Op: "navigate", Message: "net::ERR_NAME_NOT_RESOLVED"}

	res := invoke(t, reg, "compare_pages", map[string]any{"urls": "https://a.example, https://b.example"})
	assert.False(t, res.Success, "nothing was captured")
	require.Len(t, res.Pages, 2)
	assert.Nil(t, res.Pages[0].ScreenshotBase64)
	assert.Equal(t, "Failed to capture https://a.example: net::ERR_NAME_NOT_RESOLVED", res.Pages[0].Error)
	assert.Contains(t, res.Text, "🌐 Pages Captured: 0 of 2")
}

type fakeMarker struct {
	shot      service.MarkedScreenshot
	err       error
	sessionID string
	options   map[string]any
}

func (f *fakeMarker) ScreenshotMarked(_ context.Context, sessionID string, options map[string]any) (service.MarkedScreenshot, error) {
	f.sessionID, f.options = sessionID, options
	return f.shot, f.err
}

func TestServiceTools_MarkedScreenshot(t *testing.T) {
	reg, b := setup(t, nil, nil)
	marker := &fakeMarker{shot: service.MarkedScreenshot{
		Image:     "data:image/png;base64,AAAA",
		Elements:  []map[string]any{{"tag": "a"}, {"tag": "button"}},
		SessionID: "s-1",
		Timestamp: "2026-01-01T00:00:00Z",
	}}
	require.NoError(t, RegisterServiceTools(reg, b, marker))

	res := invoke(t, reg, "take_marked_screenshot", nil)
	assert.False(t, res.Success)
	require.NotNil(t, res.Marked)
	assert.Equal(t, "error", res.Marked.Type)
	assert.Equal(t, "❌ "+noSessionText, res.Marked.Message)
	assert.Nil(t, res.Marked.Image)
	assert.Empty(t, res.Marked.Elements)

	invoke(t, reg, "launch_browser", nil)
	res = invoke(t, reg, "take_marked_screenshot", map[string]any{"options": map[string]any{"maxElements": 20}})
	require.True(t, res.Success)
	assert.Equal(t, "📸 Marked screenshot captured with interactive elements highlighted. (2 elements)", res.Text)
	assert.Equal(t, "s-1", marker.sessionID)
	assert.Equal(t, map[string]any{"maxElements": 20}, marker.options)
	require.NotNil(t, res.Marked.Image)
	assert.Equal(t, "marked_screenshot", res.Marked.Type)
	assert.Equal(t, "data:image/png;base64,AAAA", *res.Marked.Image)
	assert.Len(t, res.Marked.Elements, 2)

	marker.err = &browser.BackendError{Backend: "service", Op: "browser/screenshot-marked", StatusCode: 500, Message: "page crashed"}
	res = invoke(t, reg, "take_marked_screenshot", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Marked.Type)
	assert.Equal(t, "❌ Failed to capture marked screenshot: page crashed", res.Marked.Message)

	res = invoke(t, reg, "take_marked_screenshot", map[string]any{"options": "all"})
	assert.Equal(t, `❌ argument "options" must be an object`, res.Text)
}
