package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"overdue-loan-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Query     QueryConfig     `mapstructure:"query"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Export    ExportConfig    `mapstructure:"export"`
	Endpoints []Endpoint      `mapstructure:"endpoints"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Endpoint describes one chain-specific indexer to poll. AuthKey, when set,
// names the environment variable holding the bearer token for that indexer;
// the variable is looked up at poll time, not at startup.
type Endpoint struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	AuthKey string `mapstructure:"auth_key"`
	ChainID int64  `mapstructure:"chain_id"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for the
// alert history. An empty DSN disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// QueryConfig shapes the GraphQL bids query sent to each indexer.
type QueryConfig struct {
	Window         time.Duration `mapstructure:"window"`
	PageSize       int           `mapstructure:"page_size"`
	Status         string        `mapstructure:"status"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SlackConfig 描述 Slack 告警参数。
type SlackConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TokenEnv        string        `mapstructure:"token_env"`
	Channel         string        `mapstructure:"channel"`
	APIBase         string        `mapstructure:"api_base"`
	DisplayTimezone string        `mapstructure:"display_timezone"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DedupConfig locates the append-only file of already-alerted bid keys.
type DedupConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOANWATCHER")
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
	v.SetDefault("app.name", "loanwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6c6f616e))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("query.window", "24h")
	v.SetDefault("query.page_size", 5)
	v.SetDefault("query.status", "Accepted")
	v.SetDefault("query.request_timeout", "10s")
	v.SetDefault("query.user_agent", "loanwatcher/1.0")

	v.SetDefault("slack.enabled", true)
	v.SetDefault("slack.token_env", "SLACK_OAUTH_TOKEN")
	v.SetDefault("slack.channel", "#webserver-alerts")
	v.SetDefault("slack.api_base", "https://slack.com/api")
	v.SetDefault("slack.display_timezone", "America/New_York")
	v.SetDefault("slack.request_timeout", "10s")

	v.SetDefault("dedup.path", "alerted_bids.txt")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Query.Window <= 0 {
		return fmt.Errorf("query.window must be greater than zero")
	}
	if c.Query.PageSize <= 0 {
		return fmt.Errorf("query.page_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Dedup.Path == "" {
		return fmt.Errorf("dedup.path must be set")
	}
	if c.Slack.Enabled {
		if c.Slack.TokenEnv == "" {
			return fmt.Errorf("slack.token_env 必须配置")
		}
		if c.Slack.Channel == "" {
			return fmt.Errorf("slack.channel 必须配置")
		}
	}
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d].name must be set", i)
		}
		if ep.URL == "" {
			return fmt.Errorf("endpoints[%d].url must be set", i)
		}
		if ep.ChainID <= 0 {
			return fmt.Errorf("endpoints[%d].chain_id must be greater than zero", i)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
