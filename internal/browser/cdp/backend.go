// Package cdp runs a local stealth Chrome over the DevTools protocol.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
)

const (
	backendName = "chromedp"
	// scrollStep is the wheel delta, in CSS pixels, of one scroll step.
	scrollStep = 100
	// abortWait bounds how long a timed out Start waits for the allocation to unwind.
	abortWait = 10 * time.Second
)

// Backend launches one Chrome process per Start call.
type Backend struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// startBrowser allocates Chrome for tabCtx and reports its pid. It is
	// replaceable in tests.
	startBrowser func(tabCtx context.Context) (int, error)
}

var _ browser.Backend = (*Backend)(nil)

// New creates a chromedp backend.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, logger: logger.Named("cdp"), startBrowser: startChrome}
}

// startChrome runs the first, empty action list on tabCtx, which allocates the
// browser. The pid is read on the same goroutine, after Run has set it.
func startChrome(tabCtx context.Context) (int, error) {
	err := chromedp.Run(tabCtx)
	return browserPID(tabCtx), err
}

type startResult struct {
	pid int
	err error
}

func (b *Backend) Name() string { return backendName }

// Start launches Chrome and opens its first tab. ctx bounds the startup only;
// the browser lives until the returned Instance is closed. On timeout the
// partially started instance is returned with the error so it can be torn down.
func (b *Backend) Start(ctx context.Context) (browser.Instance, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(b.cfg)...)

	id := uuid.NewString()
	logger := b.logger.With(zap.String("session_id", id))
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	inst := &Instance{
		id:          id,
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
		runActions:  chromedp.Run,
	}

	// The first Run allocates the browser, so it must not carry ctx's deadline.
	started := make(chan startResult, 1)
	go func() {
		pid, err := b.startBrowser(tabCtx)
		started <- startResult{pid: pid, err: err}
	}()

	select {
	case res := <-started:
		inst.pid = res.pid
		if res.err != nil {
			return inst, fmt.Errorf("chrome failed to start: %w", res.err)
		}
	case <-ctx.Done():
		// Abort the allocation and wait for it, so a browser that did come up
		// is reported with its pid and its process tree can be torn down.
		tabCancel()
		select {
		case res := <-started:
			inst.pid = res.pid
		case <-time.After(abortWait):
			logger.Warn("Chrome allocation did not unwind after startup timeout", zap.Duration("waited", abortWait))
		}
		return inst, fmt.Errorf("chrome did not start in time: %w", ctx.Err())
	}

	logger.Info("Chrome started", zap.Int("pid", inst.pid), zap.Bool("headless", b.cfg.Headless))
	return inst, nil
}

func browserPID(ctx context.Context) int {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return 0
	}
	if p := c.Browser.Process(); p != nil {
		return p.Pid
	}
	return 0
}

// allocatorFlags are the Chrome command line switches layered over chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// chromedp's defaults advertise automation; switch it back off.
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
		"disable-extensions":     true,
		"headless":               cfg.Headless,
		"hide-scrollbars":        cfg.Headless,
		"mute-audio":             cfg.Headless,
		"disable-gpu":            cfg.Headless,
		"lang":                   cfg.Locale,
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.Locale == "" {
		delete(flags, "lang")
	}

	// Containers usually lack the namespaces the sandbox needs.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryPath))
	}
	return opts
}

// Instance is one running Chrome with a single tab.
type Instance struct {
	id          string
	pid         int
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	// runActions is chromedp.Run, replaceable in tests.
	runActions func(ctx context.Context, actions ...chromedp.Action) error

	mu       sync.Mutex
	viewport browser.PageSettings
	closed   bool
}

var _ browser.Instance = (*Instance)(nil)

func (i *Instance) ID() string { return i.id }
func (i *Instance) PID() int   { return i.pid }

// run executes actions on the tab, bounded by ctx. The tab context itself is
// never cancelled here, only the derived run context.
func (i *Instance) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(i.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := i.runActions(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		if i.ctx.Err() != nil {
			return &browser.TransportError{Backend: backendName, Op: op, Err: err}
		}
		return &browser.BackendError{Backend: backendName, Op: op, Message: err.Error()}
	}
	return nil
}

func (i *Instance) Configure(ctx context.Context, s browser.PageSettings) error {
	i.mu.Lock()
	i.viewport = s
	i.mu.Unlock()
	return i.run(ctx, "configure", pageSetup(s, i.logger))
}

func (i *Instance) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	err := i.run(ctx, "navigate", chromedp.Navigate(url), chromedp.Location(&location))
	return location, err
}

func (i *Instance) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := i.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (i *Instance) Click(ctx context.Context, x, y int) error {
	return i.run(ctx, "click", chromedp.MouseClickXY(float64(x), float64(y)))
}

func (i *Instance) Type(ctx context.Context, text string) error {
	return i.run(ctx, "type", chromedp.KeyEvent(text))
}

// Scroll dispatches one wheel event per step at the centre of the viewport.
func (i *Instance) Scroll(ctx context.Context, direction browser.Direction, amount int) error {
	i.mu.Lock()
	x, y := float64(i.viewport.Width)/2, float64(i.viewport.Height)/2
	i.mu.Unlock()

	delta := float64(scrollStep)
	if direction == browser.ScrollUp {
		delta = -delta
	}
	actions := make([]chromedp.Action, 0, amount)
	for n := 0; n < amount; n++ {
		actions = append(actions, input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(delta))
	}
	return i.run(ctx, "scroll", actions...)
}

// Alive is false once the tab context is gone. A tab that does not answer a
// version query is reported as a transport error.
func (i *Instance) Alive(ctx context.Context) (bool, error) {
	if i.ctx.Err() != nil {
		return false, nil
	}
	err := i.run(ctx, "status", chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		if i.ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close cancels the tab and the allocator, which stops Chrome if it is still
// running and removes its temporary profile.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	err := chromedp.Cancel(i.ctx)
	i.tabCancel()
	i.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}
