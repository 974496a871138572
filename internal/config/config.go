package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ratewatch/internal/logging"
)

// Storage drivers understood by storage.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Database DatabaseConfig `mapstructure:"database"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Report   ReportConfig   `mapstructure:"report"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig points at the external quote endpoint.
type FeedConfig struct {
	URL          string  `mapstructure:"url"`
	Source       string  `mapstructure:"source"`
	UserAgent    string  `mapstructure:"user_agent"`
	TimeoutRatio float64 `mapstructure:"timeout_ratio"`
}

// DatabaseConfig selects and tunes the time-series backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	IOTimeout       time.Duration `mapstructure:"io_timeout"`
	BootstrapCSV    string        `mapstructure:"bootstrap_csv"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PollerConfig governs sampling cadence.
type PollerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines rule evaluation cadence and notifier routing.
type AlertingConfig struct {
	Interval     time.Duration  `mapstructure:"interval"`
	StartupDelay time.Duration  `mapstructure:"startup_delay"`
	Currency     string         `mapstructure:"currency"`
	RulesFile    string         `mapstructure:"rules_file"`
	Console      ConsoleConfig  `mapstructure:"console"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// ConsoleConfig toggles the log-backed notifier.
type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	EnvFile  string        `mapstructure:"env_file"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReportConfig schedules the min/max digest.
type ReportConfig struct {
	Cron      string   `mapstructure:"cron"`
	Windows   []int    `mapstructure:"windows"`
	Notifiers []string `mapstructure:"notifiers"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCH")
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
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("feed.url", "https://criptoya.com/api/usdt/ars")
	v.SetDefault("feed.source", "buenbit")
	v.SetDefault("feed.user_agent", "ratewatch/1.0")
	v.SetDefault("feed.timeout_ratio", 0.8)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/ratewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.io_timeout", "5s")
	v.SetDefault("database.bootstrap_csv", "data/exchange_rates.csv")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("database.redis.key", "ratewatch:entries")

	v.SetDefault("poller.interval", "60s")
	v.SetDefault("poller.align_to_bucket", false)
	v.SetDefault("poller.advisory_lock_key", int64(0))

	v.SetDefault("alerting.interval", "60s")
	v.SetDefault("alerting.startup_delay", "1s")
	v.SetDefault("alerting.currency", "USDT")
	v.SetDefault("alerting.rules_file", "")
	v.SetDefault("alerting.console.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.env_file", ".env")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("report.cron", "")
	v.SetDefault("report.windows", []int{1, 7, 14, 30})
	v.SetDefault("report.notifiers", []string{"console"})

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if c.Alerting.Interval <= 0 {
		return fmt.Errorf("alerting.interval must be greater than zero")
	}
	if c.Alerting.StartupDelay < 0 {
		return fmt.Errorf("alerting.startup_delay cannot be negative")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url must be configured")
	}
	if c.Feed.Source == "" {
		return fmt.Errorf("feed.source must be configured")
	}
	if c.Feed.TimeoutRatio <= 0 || c.Feed.TimeoutRatio > 1 {
		return fmt.Errorf("feed.timeout_ratio must be in (0, 1]")
	}
	if c.Database.IOTimeout <= 0 {
		return fmt.Errorf("database.io_timeout must be greater than zero")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Database.Redis.Addr == "" || c.Database.Redis.Key == "" {
			return fmt.Errorf("database.redis.addr and database.redis.key are required for the redis driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	for _, w := range c.Report.Windows {
		if w <= 0 {
			return fmt.Errorf("report.windows must contain positive day counts, got %d", w)
		}
	}
	return nil
}

// FetchTimeout derives the per-tick feed timeout so a slow fetch cannot overlap the next tick.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(float64(c.Poller.Interval) * c.Feed.TimeoutRatio)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
