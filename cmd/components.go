package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/browser/cdp"
	"github.com/xkilldash9x/glimpse-cli/internal/browser/proctree"
	"github.com/xkilldash9x/glimpse-cli/internal/browser/service"
	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/locator"
	"github.com/xkilldash9x/glimpse-cli/internal/pointing"
	"github.com/xkilldash9x/glimpse-cli/internal/tools"
)

const shutdownTimeout = 15 * time.Second

// components is everything a command needs to drive the browser.
type components struct {
	Manager  *browser.Manager
	Pointer  pointing.Pointer
	Locator  *locator.Locator
	Service  *service.Client
	Registry *tools.Registry
	logger   *zap.Logger
}

// initializeComponents is a variable so tests can substitute fakes.
var initializeComponents = buildComponents

// buildComponents wires the configured backend, pointing provider and tools.
// Nothing is started until a tool launches the browser.
func buildComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	browserCfg := cfg.Browser()
	svc := service.NewClient(browserCfg.Service, logger)

	var (
		backend browser.Backend
		procs   browser.ProcessTree
	)
	switch browserCfg.Backend {
	case config.BrowserBackendChromedp:
		backend = cdp.New(browserCfg, logger)
		procs = proctree.New(logger)
	case config.BrowserBackendService:
		backend = service.NewWithClient(svc, logger)
	default:
		return nil, fmt.Errorf("unknown browser backend %q", browserCfg.Backend)
	}

	pointer, err := pointing.New(cfg.Pointing(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pointing provider: %w", err)
	}

	manager := browser.NewManager(backend, procs, browserCfg, logger)
	loc := locator.New(manager, pointer, logger)

	reg := tools.NewRegistry(logger)
	if err := tools.RegisterBrowserTools(reg, manager, loc, svc); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	// Marked screenshots need service session ids.
	if browserCfg.Backend == config.BrowserBackendService {
		if err := tools.RegisterServiceTools(reg, manager, svc); err != nil {
			return nil, fmt.Errorf("failed to register service tools: %w", err)
		}
	}

	return &components{
		Manager:  manager,
		Pointer:  pointer,
		Locator:  loc,
		Service:  svc,
		Registry: reg,
		logger:   logger,
	}, nil
}

// Shutdown tears down any browser still open. It runs on its own deadline so
// an interrupted command still cleans up.
func (c *components) Shutdown(ctx context.Context) {
	if c == nil || c.Manager == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := c.Manager.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("Error during browser manager shutdown", zap.Error(err))
	}
}
