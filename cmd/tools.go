package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/glimpse-cli/internal/observability"
	"github.com/xkilldash9x/glimpse-cli/internal/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool descriptors offered to an agent, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			comps, err := initializeComponents(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			return printDefinitions(cmd.OutOrStdout(), comps.Registry.Definitions())
		},
	}
}

func printDefinitions(out io.Writer, defs []tools.Definition) error {
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tool definitions: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
