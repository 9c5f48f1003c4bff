// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "glimpse", cfg.Logger().ServiceName)
	assert.Equal(t, "green", cfg.Logger().Colors.Info)

	assert.Equal(t, BrowserBackendChromedp, cfg.Browser().Backend)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 1280, cfg.Browser().Viewport.Width)
	assert.Equal(t, 720, cfg.Browser().Viewport.Height)
	assert.Equal(t, "en-US", cfg.Browser().Locale)
	assert.Equal(t, 30*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Browser().TeardownGracePeriod)
	assert.Equal(t, 100*time.Millisecond, cfg.Browser().TeardownPoll)
	assert.Equal(t, "http://localhost:3000", cfg.Browser().Service.URL)
	assert.Equal(t, 30*time.Second, cfg.Browser().Service.Timeout)

	assert.Equal(t, ProviderLocal, cfg.Pointing().Provider)
	assert.Equal(t, "http://localhost:2020", cfg.Pointing().Local.URL)
	assert.Equal(t, 2.0, cfg.Pointing().Cloud.RateLimit)
	assert.Equal(t, "gemini-2.5-flash", cfg.Pointing().Gemini.Model)

	assert.NoError(t, cfg.Validate(), "defaults must be valid out of the box")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserBackend(BrowserBackendService)
	iface.SetBrowserHeadless(false)
	iface.SetPointingProvider(ProviderGemini)

	assert.Equal(t, BrowserBackendService, cfg.Browser().Backend)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, ProviderGemini, cfg.Pointing().Provider)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Browser Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		unknown := *cfg
		unknown.BrowserCfg.Backend = "firefox"
		err := unknown.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown backend "firefox"`)

		badViewport := *cfg
		badViewport.BrowserCfg.Viewport.Width = 0
		err = badViewport.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "viewport width and height must be positive integers")

		noGrace := *cfg
		noGrace.BrowserCfg.TeardownGracePeriod = 0
		err = noGrace.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "teardown_grace_period must be a positive duration")

		badService := *cfg
		badService.BrowserCfg.Backend = BrowserBackendService
		badService.BrowserCfg.Service.URL = "localhost:3000"
		err = badService.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service.url")
	})

	t.Run("Pointing Validation", func(t *testing.T) {
		valid := PointingConfig{
			Provider: ProviderCloud,
			Timeout:  time.Second,
			Cloud:    CloudPointingConfig{URL: "https://api.moondream.ai", APIKey: "md-key"},
		}
		assert.NoError(t, valid.Validate())

		missingKey := valid
		missingKey.Cloud.APIKey = ""
		err := missingKey.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "moondream API key is required")

		negativeRate := valid
		negativeRate.Cloud.RateLimit = -1
		assert.Error(t, negativeRate.Validate())

		gemini := PointingConfig{
			Provider: ProviderGemini,
			Timeout:  time.Second,
			Gemini:   GeminiConfig{Model: "gemini-2.5-flash"},
		}
		err = gemini.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gemini API key is required")

		gemini.Gemini.APIKey = "g-key"
		assert.NoError(t, gemini.Validate())

		unknown := valid
		unknown.Provider = "openai"
		err = unknown.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown provider "openai"`)

		noTimeout := valid
		noTimeout.Timeout = 0
		assert.Error(t, noTimeout.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  backend: service
  viewport:
    width: 1920
    height: 1080
  service:
    url: "http://browser-svc:3000"
    timeout: 10s
pointing:
  provider: local
  local:
    url: "http://moondream:2020"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, BrowserBackendService, cfg.Browser().Backend)
		assert.Equal(t, 1920, cfg.Browser().Viewport.Width)
		assert.Equal(t, "http://browser-svc:3000", cfg.Browser().Service.URL)
		assert.Equal(t, 10*time.Second, cfg.Browser().Service.Timeout)
		assert.Equal(t, "http://moondream:2020", cfg.Pointing().Local.URL)
		// Defaults still apply to everything the file leaves out.
		assert.Equal(t, "info", cfg.Logger().Level)
		assert.Equal(t, 5*time.Second, cfg.Browser().TeardownGracePeriod)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pointing.provider", "cloud")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "moondream API key is required")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pointing.provider", "gemini")

		t.Setenv("GLIMPSE_GEMINI_API_KEY", "g-env-key")
		t.Setenv("GLIMPSE_MOONDREAM_API_KEY", "md-env-key")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "g-env-key", cfg.Pointing().Gemini.APIKey)
		assert.Equal(t, "md-env-key", cfg.Pointing().Cloud.APIKey)
	})

	t.Run("Fallback Environment Variable", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pointing.provider", "cloud")

		t.Setenv("GLIMPSE_MOONDREAM_API_KEY", "")
		t.Setenv("MOONDREAM_API_KEY", "md-plain")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "md-plain", cfg.Pointing().Cloud.APIKey)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/glimpse.log
browser:
  args: ["--window-position=0,0", "mute-audio"]
  teardown_grace_period: 2s
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/glimpse.log", cfg.Logger().LogFile)
	assert.Equal(t, []string{"--window-position=0,0", "mute-audio"}, cfg.Browser().Args)
	assert.Equal(t, 2*time.Second, cfg.Browser().TeardownGracePeriod)
}
