// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Pointing() PointingConfig

	// Browser Setters
	SetBrowserBackend(name string)
	SetBrowserHeadless(bool)

	// Pointing Setters
	SetPointingProvider(p PointingProvider)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	PointingCfg PointingConfig `mapstructure:"pointing" yaml:"pointing"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Pointing() PointingConfig { return c.PointingCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserBackend(name string)          { c.BrowserCfg.Backend = name }
func (c *Config) SetBrowserHeadless(b bool)              { c.BrowserCfg.Headless = b }
func (c *Config) SetPointingProvider(p PointingProvider) { c.PointingCfg.Provider = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Browser backend names.
const (
	BrowserBackendChromedp = "chromedp"
	BrowserBackendService  = "service"
)

// BrowserConfig configures the single-session browser manager and its backend.
type BrowserConfig struct {
	Backend    string         `mapstructure:"backend" yaml:"backend"`
	Headless   bool           `mapstructure:"headless" yaml:"headless"`
	BinaryPath string         `mapstructure:"binary_path" yaml:"binary_path"`
	Args       []string       `mapstructure:"args" yaml:"args"`
	Viewport   ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Locale     string         `mapstructure:"locale" yaml:"locale"`
	Timezone   string         `mapstructure:"timezone" yaml:"timezone"`
	UserAgent  string         `mapstructure:"user_agent" yaml:"user_agent"`

	StartupTimeout      time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout       time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	TeardownGracePeriod time.Duration `mapstructure:"teardown_grace_period" yaml:"teardown_grace_period"`
	TeardownPoll        time.Duration `mapstructure:"teardown_poll_interval" yaml:"teardown_poll_interval"`

	Service BrowserServiceConfig `mapstructure:"service" yaml:"service"`
}

// ViewportConfig is the emulated window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserServiceConfig points at an external browser-automation service.
type BrowserServiceConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PointingProvider identifies the vision backend used to resolve element descriptions.
type PointingProvider string

const (
	ProviderLocal  PointingProvider = "local"
	ProviderCloud  PointingProvider = "cloud"
	ProviderGemini PointingProvider = "gemini"
)

// PointingConfig selects and configures the pointing backend.
type PointingConfig struct {
	Provider PointingProvider    `mapstructure:"provider" yaml:"provider"`
	Timeout  time.Duration       `mapstructure:"timeout" yaml:"timeout"`
	Local    LocalPointingConfig `mapstructure:"local" yaml:"local"`
	Cloud    CloudPointingConfig `mapstructure:"cloud" yaml:"cloud"`
	Gemini   GeminiConfig        `mapstructure:"gemini" yaml:"gemini"`
}

// LocalPointingConfig is a self-hosted Moondream server.
type LocalPointingConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CloudPointingConfig is the hosted Moondream API.
type CloudPointingConfig struct {
	URL       string  `mapstructure:"url" yaml:"url"`
	APIKey    string  `mapstructure:"api_key" yaml:"-"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// GeminiConfig configures pointing through a Gemini multimodal model.
type GeminiConfig struct {
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"-"`
	Endpoint  string  `mapstructure:"endpoint" yaml:"endpoint"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// DefaultUserAgent is a current desktop Chrome.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "glimpse")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.backend", BrowserBackendChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.binary_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.teardown_grace_period", "5s")
	v.SetDefault("browser.teardown_poll_interval", "100ms")
	v.SetDefault("browser.service.url", "http://localhost:3000")
	v.SetDefault("browser.service.timeout", "30s")

	// -- Pointing --
	v.SetDefault("pointing.provider", string(ProviderLocal))
	v.SetDefault("pointing.timeout", "30s")
	v.SetDefault("pointing.local.url", "http://localhost:2020")
	v.SetDefault("pointing.cloud.url", "https://api.moondream.ai")
	v.SetDefault("pointing.cloud.api_key", "") // Should be set via env var
	v.SetDefault("pointing.cloud.rate_limit", 2.0)
	v.SetDefault("pointing.gemini.model", "gemini-2.5-flash")
	v.SetDefault("pointing.gemini.api_key", "") // Should be set via env var
	v.SetDefault("pointing.gemini.endpoint", "")
	v.SetDefault("pointing.gemini.rate_limit", 1.0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("pointing.cloud.api_key", "GLIMPSE_MOONDREAM_API_KEY", "MOONDREAM_API_KEY")
	_ = v.BindEnv("pointing.gemini.api_key", "GLIMPSE_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.PointingCfg.Provider == ProviderCloud && cfg.PointingCfg.Cloud.APIKey == "" {
		cfg.PointingCfg.Cloud.APIKey = os.Getenv("MOONDREAM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.PointingCfg.Validate(); err != nil {
		return fmt.Errorf("pointing configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser configuration.
func (b *BrowserConfig) Validate() error {
	switch b.Backend {
	case BrowserBackendChromedp:
	case BrowserBackendService:
		if err := validateURL(b.Service.URL); err != nil {
			return fmt.Errorf("service.url: %w", err)
		}
		if b.Service.Timeout <= 0 {
			return fmt.Errorf("service.timeout must be a positive duration")
		}
	default:
		return fmt.Errorf("unknown backend %q (expected %q or %q)", b.Backend, BrowserBackendChromedp, BrowserBackendService)
	}
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport width and height must be positive integers")
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.TeardownGracePeriod <= 0 {
		return fmt.Errorf("teardown_grace_period must be a positive duration")
	}
	return nil
}

// Validate checks the pointing configuration.
func (p *PointingConfig) Validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	switch p.Provider {
	case ProviderLocal:
		if err := validateURL(p.Local.URL); err != nil {
			return fmt.Errorf("local.url: %w", err)
		}
	case ProviderCloud:
		if err := validateURL(p.Cloud.URL); err != nil {
			return fmt.Errorf("cloud.url: %w", err)
		}
		if p.Cloud.APIKey == "" {
			return fmt.Errorf("moondream API key is required but not found. Ensure GLIMPSE_MOONDREAM_API_KEY is set")
		}
		if p.Cloud.RateLimit < 0 {
			return fmt.Errorf("cloud.rate_limit must not be negative")
		}
	case ProviderGemini:
		if p.Gemini.Model == "" {
			return fmt.Errorf("gemini.model is required")
		}
		if p.Gemini.APIKey == "" {
			return fmt.Errorf("gemini API key is required but not found. Ensure GLIMPSE_GEMINI_API_KEY is set")
		}
		if p.Gemini.Endpoint != "" {
			if err := validateURL(p.Gemini.Endpoint); err != nil {
				return fmt.Errorf("gemini.endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown provider %q", p.Provider)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
