package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// DefaultUserAgent is sent with every outbound request unless HTTP_USER_AGENT overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 6.2; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/56.0.2924.87 Safari/537.36"

type Config struct {
	// HTTP configures the shared outbound client used by every fetch
	HTTP struct {
		// Maximum number of in-flight outbound requests
		MaxParallelConnections int `env:"HTTP_MAX_PARALLEL_CONNECTIONS" envDefault:"24"`

		// Maximum number of retries for transient failures
		MaxRetryCount int `env:"HTTP_MAX_RETRY_COUNT" envDefault:"3"`

		// Base delay of the exponential backoff between retries
		RetryBaseDelay time.Duration `env:"HTTP_RETRY_BASE_DELAY" envDefault:"500ms"`

		Timeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
		UserAgent string        `env:"HTTP_USER_AGENT"`
	}

	Rightmove struct {
		// Whole-page retries on top of the client retries; the search API answers
		// with spurious 400s from time to time
		PageRetryCount int           `env:"RIGHTMOVE_PAGE_RETRY_COUNT" envDefault:"3"`
		PageRetryDelay time.Duration `env:"RIGHTMOVE_PAGE_RETRY_DELAY" envDefault:"1s"`

		// Directory of the resolved location cache; empty disables it
		LocationCacheDir string `env:"RIGHTMOVE_LOCATION_CACHE_DIR" envDefault:"database/cache"`
	}

	TfL struct {
		BaseURL string `env:"TFL_BASE_URL" envDefault:"https://api.tfl.gov.uk"`
	}

	PropertyLog struct {
		Enabled                bool          `env:"PROPERTYLOG_ENABLED" envDefault:"false"`
		User                   string        `env:"PROPERTYLOG_USER"`
		MaxParallelConnections int           `env:"PROPERTYLOG_MAX_PARALLEL_CONNECTIONS" envDefault:"4"`
		MaxRetryCount          int           `env:"PROPERTYLOG_MAX_RETRY_COUNT" envDefault:"3"`
		RetryDelay             time.Duration `env:"PROPERTYLOG_RETRY_DELAY" envDefault:"5s"`
	}

	Pipeline struct {
		// Abort the whole run when a single location cannot be resolved
		StrictLocations bool `env:"PIPELINE_STRICT_LOCATIONS" envDefault:"false"`
	}

	Database struct {
		Driver      string `env:"DB_DRIVER" envDefault:"sqlite"`
		Path        string `env:"DB_PATH" envDefault:"database/property.db"`
		PostgresDSN string `env:"DB_POSTGRES_DSN"`
	}

	Server struct {
		Port             string   `env:"PORT" envDefault:"3000"`
		StaticDir        string   `env:"STATIC_DIR" envDefault:"../uk-property-search-app/dist/pwa"`
		CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Scheduler struct {
		Enabled          bool          `env:"SCHEDULER_ENABLED" envDefault:"false"`
		RunOnStartup     bool          `env:"SCHEDULER_RUN_ON_STARTUP" envDefault:"false"`
		PropertyInterval time.Duration `env:"SCHEDULER_PROPERTY_INTERVAL" envDefault:"24h"`
		TubeInterval     time.Duration `env:"SCHEDULER_TUBE_INTERVAL" envDefault:"168h"`
	}

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
	}

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = DefaultUserAgent
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the fetch layer cannot work with.
func (c *Config) Validate() error {
	if c.HTTP.MaxParallelConnections <= 0 {
		return fmt.Errorf("HTTP_MAX_PARALLEL_CONNECTIONS must be positive, got %d", c.HTTP.MaxParallelConnections)
	}
	if c.HTTP.MaxRetryCount < 0 {
		return fmt.Errorf("HTTP_MAX_RETRY_COUNT must not be negative, got %d", c.HTTP.MaxRetryCount)
	}
	if c.Rightmove.PageRetryCount < 0 {
		return fmt.Errorf("RIGHTMOVE_PAGE_RETRY_COUNT must not be negative, got %d", c.Rightmove.PageRetryCount)
	}
	if c.PropertyLog.Enabled {
		if c.PropertyLog.User == "" {
			return fmt.Errorf("PROPERTYLOG_USER is required when PROPERTYLOG_ENABLED is set")
		}
		if c.PropertyLog.MaxParallelConnections <= 0 {
			return fmt.Errorf("PROPERTYLOG_MAX_PARALLEL_CONNECTIONS must be positive, got %d", c.PropertyLog.MaxParallelConnections)
		}
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("DB_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}

// TelegramEnabled reports whether run notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
