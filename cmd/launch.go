package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/glimpse-cli/internal/browser"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
)

func newLaunchCmd() *cobra.Command {
	var hold bool

	cmd := &cobra.Command{
		Use:   "launch [url]",
		Short: "Launch a browser, print the session and close it",
		Long: `Launch starts one browser session and prints it. With --hold the browser
stays open until interrupted (Ctrl+C); otherwise it is closed right away.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			comps, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown(ctx)

			url := browser.BlankPage
			if len(args) == 1 {
				url = args[0]
			}
			return runLaunch(ctx, cmd.OutOrStdout(), comps.Manager, url, hold)
		},
	}
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the browser open until interrupted")
	return cmd
}

type sessionLauncher interface {
	Launch(ctx context.Context, url string) (browser.Session, error)
	Close(ctx context.Context) (bool, error)
}

func runLaunch(ctx context.Context, out io.Writer, m sessionLauncher, url string, hold bool) error {
	s, err := m.Launch(ctx, url)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session ID:  %s\n", s.ID)
	fmt.Fprintf(out, "Backend:     %s\n", s.Backend)
	if s.PID > 0 {
		fmt.Fprintf(out, "PID:         %d\n", s.PID)
	}
	fmt.Fprintf(out, "Current URL: %s\n", s.URL)

	if hold {
		fmt.Fprintln(out, "Browser is open. Press Ctrl+C to close it.")
		<-ctx.Done()
	}

	closed, err := m.Close(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	if closed {
		fmt.Fprintln(out, "Browser closed.")
	}
	return nil
}
