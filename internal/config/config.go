package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-testing/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig covers the storefront and admin HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	EventRateLimit  float64       `mapstructure:"event_rate_limit"`
	EventBurst      int           `mapstructure:"event_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
}

// SchedulerConfig governs the automation sweep cadence.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AnalyticsConfig tunes event aggregation.
type AnalyticsConfig struct {
	DedupKey     string `mapstructure:"dedup_key"`
	DefaultRange string `mapstructure:"default_range"`
}

// GeoIPConfig configures the country lookup used by audience targeting.
type GeoIPConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for notifications.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Dir          string `mapstructure:"dir"`
	ChartWidth   int    `mapstructure:"chart_width"`
	ChartHeight  int    `mapstructure:"chart_height"`
	DefaultRange string `mapstructure:"default_range"`
}

// Load builds configuration from an optional .env file, a config file,
// environment variables and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PRICETEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricetest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.event_rate_limit", 50.0)
	v.SetDefault("server.event_burst", 100)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cookie_secure", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70747374))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("analytics.dedup_key", "path")
	v.SetDefault("analytics.default_range", "7d")

	v.SetDefault("geoip.enabled", false)
	v.SetDefault("geoip.base_url", "https://ipapi.co")
	v.SetDefault("geoip.timeout", "800ms")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)
	v.SetDefault("export.default_range", "30d")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var validRanges = map[string]bool{"1d": true, "7d": true, "30d": true, "90d": true}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Analytics.DedupKey {
	case "path", "visitor":
	default:
		return fmt.Errorf("analytics.dedup_key must be path or visitor, got %q", c.Analytics.DedupKey)
	}
	if !validRanges[c.Analytics.DefaultRange] {
		return fmt.Errorf("analytics.default_range must be one of 1d, 7d, 30d, 90d")
	}
	if !validRanges[c.Export.DefaultRange] {
		return fmt.Errorf("export.default_range must be one of 1d, 7d, 30d, 90d")
	}
	if c.Server.EventRateLimit < 0 || c.Server.EventBurst < 0 {
		return fmt.Errorf("server.event_rate_limit and server.event_burst cannot be negative")
	}
	if c.GeoIP.Timeout >= time.Second {
		return fmt.Errorf("geoip.timeout must stay under one second")
	}
	if c.Export.ChartWidth <= 0 || c.Export.ChartHeight <= 0 {
		return fmt.Errorf("export chart dimensions must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}
