package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/glimpse-cli/internal/browser/service"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
	"github.com/xkilldash9x/glimpse-cli/internal/tools"
)

const healthTimeout = 10 * time.Second

// ErrUnhealthy is returned when any probed backend failed.
var ErrUnhealthy = errors.New("one or more backends are unhealthy")

type prober interface {
	Name() string
	Probe(ctx context.Context) error
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the browser service and the pointing backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			pointer, err := newPointer(cfg.Pointing(), logger)
			if err != nil {
				return err
			}
			return runHealth(ctx, cmd.OutOrStdout(), service.NewClient(cfg.Browser().Service, logger), pointer)
		},
	}
}

// runHealth probes both backends concurrently and prints one line for each.
func runHealth(ctx context.Context, out io.Writer, svc tools.HealthChecker, pointer prober) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var serviceLine, pointerLine string
	var serviceErr, pointerErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := svc.Health(gctx)
		if err != nil {
			serviceErr = err
			serviceLine = fmt.Sprintf("❌ browser service: %v", err)
			return nil
		}
		serviceLine = fmt.Sprintf("✅ browser service: %s (%d active sessions)", h.Status, h.ActiveSessions)
		return nil
	})
	g.Go(func() error {
		if err := pointer.Probe(gctx); err != nil {
			pointerErr = err
			pointerLine = fmt.Sprintf("❌ pointing (%s): %v", pointer.Name(), err)
			return nil
		}
		pointerLine = fmt.Sprintf("✅ pointing (%s): reachable", pointer.Name())
		return nil
	})
	// Probes record their own failures, so Wait only returns nil.
	_ = g.Wait()

	fmt.Fprintln(out, serviceLine)
	fmt.Fprintln(out, pointerLine)
	if serviceErr != nil || pointerErr != nil {
		return ErrUnhealthy
	}
	return nil
}
