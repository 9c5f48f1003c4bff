package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/glimpse-cli/internal/locator"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
	"github.com/xkilldash9x/glimpse-cli/internal/pointing"
)

// newPointer is a variable so tests can avoid real providers.
var newPointer = pointing.New

func newLocateCmd() *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "locate --image <file> <description>",
		Short: "Find an element in a screenshot file by description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			logger := observability.GetLogger()
			pointer, err := newPointer(cfg.Pointing(), logger)
			if err != nil {
				return err
			}
			return runLocate(ctx, cmd.OutOrStdout(), locator.New(nil, pointer, logger), image, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "PNG, JPEG or WebP screenshot to search")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// ErrNotFound is returned by the locate command when nothing matched.
var ErrNotFound = errors.New("element not found")

func runLocate(ctx context.Context, out io.Writer, l *locator.Locator, image []byte, description string) error {
	c, found, err := l.LocateImage(ctx, image, description)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(out, "No match for %q. Try describing it differently.\n", description)
		return ErrNotFound
	}
	fmt.Fprintf(out, "Found %q at pixel (%d, %d) in a %dx%d image (normalized %.4f, %.4f)\n",
		description, c.X, c.Y, c.Width, c.Height, c.NormX, c.NormY)
	return nil
}
