package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	StateTable  string `env:"STATE_TABLE"  env-required:"true"`
	ParamPrefix string `env:"PARAM_PREFIX" env-required:"true"`

	Messenger MessengerConfig
	Dialogue  DialogueConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// MessengerConfig holds Graph API client settings.
type MessengerConfig struct {
	GraphAPIURL string        `env:"GRAPH_API_URL" env-default:"https://graph.facebook.com/v19.0"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT"  env-default:"10s"`
}

// DialogueConfig holds settings of the conversation itself.
type DialogueConfig struct {
	TimeZone                string `env:"TIME_ZONE"                  env-default:"America/Sao_Paulo"`
	TemplatesPath           string `env:"TEMPLATES_PATH"`
	MaxCategoriesPerMessage int    `env:"MAX_CATEGORIES_PER_MESSAGE" env-default:"20"`
}

// WebhookConfig holds inbound event handling settings.
type WebhookConfig struct {
	EventTTL    time.Duration `env:"EVENT_TTL"           env-default:"72h"`
	Concurrency int           `env:"WEBHOOK_CONCURRENCY" env-default:"4"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"json"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// Validate checks the values cleanenv cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateTable) == "" {
		return fmt.Errorf("state_table must not be empty")
	}
	if strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/") == "" {
		return fmt.Errorf("param_prefix must not be empty")
	}
	if c.Messenger.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be > 0 (got %s)", c.Messenger.HTTPTimeout)
	}
	if _, err := c.Dialogue.Location(); err != nil {
		return fmt.Errorf("time_zone: %w", err)
	}
	if c.Dialogue.MaxCategoriesPerMessage <= 0 {
		return fmt.Errorf("max_categories_per_message must be > 0 (got %d)", c.Dialogue.MaxCategoriesPerMessage)
	}
	if c.Webhook.EventTTL <= 0 {
		return fmt.Errorf("event_ttl must be > 0 (got %s)", c.Webhook.EventTTL)
	}
	if c.Webhook.Concurrency <= 0 {
		return fmt.Errorf("webhook_concurrency must be > 0 (got %d)", c.Webhook.Concurrency)
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log_level must be one of %v (got %q)", logLevels, c.Log.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("log_format must be one of %v (got %q)", logFormats, c.Log.Format)
	}
	return nil
}

// Location resolves TimeZone.
func (d DialogueConfig) Location() (*time.Location, error) {
	return time.LoadLocation(d.TimeZone)
}
