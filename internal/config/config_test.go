package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validEnv sets the minimum required env vars for a valid config.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STATE_TABLE", "finbot-state")
	t.Setenv("PARAM_PREFIX", "/finbot/prod")
	t.Setenv("DOTENV_PATH", "")
}

func validConfig() Config {
	return Config{
		StateTable:  "t",
		ParamPrefix: "/p",
		Messenger:   MessengerConfig{GraphAPIURL: "https://graph.facebook.com/v19.0", HTTPTimeout: time.Second},
		Dialogue:    DialogueConfig{TimeZone: "UTC", MaxCategoriesPerMessage: 20},
		Webhook:     WebhookConfig{EventTTL: time.Hour, Concurrency: 4},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "finbot-state", cfg.StateTable)
	require.Equal(t, "/finbot/prod", cfg.ParamPrefix)
	require.Equal(t, "https://graph.facebook.com/v19.0", cfg.Messenger.GraphAPIURL)
	require.Equal(t, 10*time.Second, cfg.Messenger.HTTPTimeout)
	require.Equal(t, "America/Sao_Paulo", cfg.Dialogue.TimeZone)
	require.Empty(t, cfg.Dialogue.TemplatesPath)
	require.Equal(t, 20, cfg.Dialogue.MaxCategoriesPerMessage)
	require.Equal(t, 72*time.Hour, cfg.Webhook.EventTTL)
	require.Equal(t, 4, cfg.Webhook.Concurrency)
	require.Equal(t, LogConfig{Level: "info", Format: "json"}, cfg.Log)
}

func TestLoad_Overrides(t *testing.T) {
	validEnv(t)
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("TIME_ZONE", "UTC")
	t.Setenv("MAX_CATEGORIES_PER_MESSAGE", "5")
	t.Setenv("EVENT_TTL", "24h")
	t.Setenv("WEBHOOK_CONCURRENCY", "8")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, cfg.Messenger.HTTPTimeout)
	require.Equal(t, "UTC", cfg.Dialogue.TimeZone)
	require.Equal(t, 5, cfg.Dialogue.MaxCategoriesPerMessage)
	require.Equal(t, 24*time.Hour, cfg.Webhook.EventTTL)
	require.Equal(t, 8, cfg.Webhook.Concurrency)
	require.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingRequired(t *testing.T) {
	validEnv(t)
	t.Setenv("STATE_TABLE", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	validEnv(t)
	t.Setenv("WEBHOOK_CONCURRENCY", "0")

	_, err := Load()
	require.ErrorContains(t, err, "webhook_concurrency")
}

func TestLoad_DotEnvFile(t *testing.T) {
	validEnv(t)
	t.Setenv("EVENT_TTL", "")
	require.NoError(t, os.Unsetenv("EVENT_TTL"))

	path := filepath.Join(t.TempDir(), "local.env")
	require.NoError(t, os.WriteFile(path, []byte("EVENT_TTL=90m\nSTATE_TABLE=ignored\n"), 0o600))
	t.Setenv("DOTENV_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, cfg.Webhook.EventTTL)
	require.Equal(t, "finbot-state", cfg.StateTable, "existing variables win over the file")
}

func TestLoad_ExplicitDotEnvMissing(t *testing.T) {
	validEnv(t)
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "nope.env"))

	_, err := Load()
	require.ErrorContains(t, err, "nope.env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"blank table", func(c *Config) { c.StateTable = " " }, "state_table"},
		{"slash prefix", func(c *Config) { c.ParamPrefix = "/" }, "param_prefix"},
		{"zero timeout", func(c *Config) { c.Messenger.HTTPTimeout = 0 }, "http_timeout"},
		{"bad zone", func(c *Config) { c.Dialogue.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"zero categories", func(c *Config) { c.Dialogue.MaxCategoriesPerMessage = 0 }, "max_categories_per_message"},
		{"negative ttl", func(c *Config) { c.Webhook.EventTTL = -time.Second }, "event_ttl"},
		{"zero concurrency", func(c *Config) { c.Webhook.Concurrency = 0 }, "webhook_concurrency"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log_level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log_format"},
		{"upper case level", func(c *Config) { c.Log.Level = "DEBUG" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"k":"v"`)

	buf.Reset()
	logger = NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("dbg")
	require.Contains(t, buf.String(), "msg=dbg")
	require.Contains(t, buf.String(), "source=")
}
