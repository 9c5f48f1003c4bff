// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
)

type contextKey string

const configKey contextKey = "glimpse.config"

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	cfgFile  string
	backend  string
	headful  bool
	provider string
}

// NewRootCommand builds a fresh command tree. The interactive binary creates
// one per entered line so flags never leak between runs.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "glimpse",
		Short:         "Glimpse drives a stealth browser and finds things on screen by description.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "glimpse"})
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.RegisterSecrets(cfg.Pointing().Cloud.APIKey, cfg.Pointing().Gemini.APIKey)
			observability.GetLogger().Debug("Starting glimpse", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "browser backend: chromedp or service")
	cmd.PersistentFlags().BoolVar(&flags.headful, "headful", false, "show the browser window")
	cmd.PersistentFlags().StringVar(&flags.provider, "pointing", "", "pointing provider: local, cloud or gemini")
	cmd.SetVersionTemplate(`{{printf "glimpse version %s\n" .Version}}`)

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newShellCmd())
	cmd.AddCommand(newLaunchCmd())
	cmd.AddCommand(newLocateCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newToolsCmd())
	return cmd
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.GetLogger().Debug("Command execution failed", zap.Error(err))
	}
	return err
}

// loadConfig reads defaults, the config file and the environment, then
// applies flag overrides and validates the result.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	if err := initializeConfig(v, flags.cfgFile); err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load or validate config: %w", err)
	}

	changed := false
	if cmd.Flags().Changed("backend") {
		cfg.SetBrowserBackend(flags.backend)
		changed = true
	}
	if cmd.Flags().Changed("headful") {
		cfg.SetBrowserHeadless(!flags.headful)
		changed = true
	}
	if cmd.Flags().Changed("pointing") {
		cfg.SetPointingProvider(config.PointingProvider(flags.provider))
		changed = true
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid flag override: %w", err)
		}
	}
	return cfg, nil
}

// initializeConfig points v at the config file and the GLIMPSE_ environment.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GLIMPSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFromContext returns the config stored by PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
