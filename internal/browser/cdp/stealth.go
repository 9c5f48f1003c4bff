package cdp

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
)

//go:embed evasions.js
var evasionsScript string

// pageSetup builds the CDP actions that size the viewport, set the locale and
// headers, and hide the usual automation fingerprints.
func pageSetup(s browser.PageSettings, logger *zap.Logger) chromedp.Tasks {
	acceptLanguage := s.AcceptLanguage()
	logger.Debug("Applying page settings",
		zap.Int("width", s.Width),
		zap.Int("height", s.Height),
		zap.String("locale", s.Locale),
		zap.String("accept_language", acceptLanguage),
	)

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(s.Width), int64(s.Height), 1, false),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}),
	}

	if s.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.UserAgent).WithAcceptLanguage(acceptLanguage))
	}
	if s.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(s.Locale))
	}
	if s.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(s.Timezone))
	}

	// AddScriptToEvaluateOnNewDocument returns an identifier as well as an
	// error, so it has to be wrapped to fit chromedp.Action.
	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
			return fmt.Errorf("failed to inject evasions script: %w", err)
		}
		return nil
	}))
	return tasks
}
