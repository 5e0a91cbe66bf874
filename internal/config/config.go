package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fxreport/internal/logging"
	"fxreport/internal/rates"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Report    ReportConfig    `mapstructure:"report"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
	DataDir     string `mapstructure:"data_dir" validate:"required"`
}

// DatabaseConfig selects and tunes the rate store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres postgresql pgx sqlite sqlite3"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the daily trigger and catch-up on start.
type SchedulerConfig struct {
	RunAt        string        `mapstructure:"run_at" validate:"required"`
	Location     string        `mapstructure:"location"`
	StartupDelay time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
	Catchup      bool          `mapstructure:"catchup"`
	StartDate    string        `mapstructure:"start_date"`
}

// RatesConfig describes what to fetch and from where.
type RatesConfig struct {
	Base           string        `mapstructure:"base" validate:"required,len=3,alpha,uppercase"`
	Symbols        []string      `mapstructure:"symbols" validate:"required,min=1"`
	ProviderURL    string        `mapstructure:"provider_url" validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	UserAgent      string        `mapstructure:"user_agent"`
	Archive        bool          `mapstructure:"archive"`
}

// ReportConfig controls the exported artifact.
type ReportConfig struct {
	FilePattern string `mapstructure:"file_pattern" validate:"required"`
	Caption     string `mapstructure:"caption"`
}

// NotifierConfig defines delivery channels.
type NotifierConfig struct {
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig describes the report topic.
type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig sets where batch metrics are pushed.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// HTTPConfig configures the read-only API.
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults. A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FXREPORT")
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

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fxreport")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.run_at", "01:00")
	v.SetDefault("scheduler.location", "UTC")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.catchup", true)
	v.SetDefault("scheduler.start_date", "2024-09-01")

	v.SetDefault("rates.base", "USD")
	v.SetDefault("rates.symbols", []string{"EUR", "GBP", "JPY", "CNY", "VND"})
	v.SetDefault("rates.provider_url", "https://api.apilayer.com/exchangerates_data")
	v.SetDefault("rates.api_key", "")
	v.SetDefault("rates.request_timeout", "15s")
	v.SetDefault("rates.user_agent", "")
	v.SetDefault("rates.archive", true)

	v.SetDefault("report.file_pattern", "max_deviation_%s.csv")
	v.SetDefault("report.caption", "Daily FX max deviation report")

	v.SetDefault("notifier.channels", []string{})
	v.SetDefault("notifier.telegram.bot_token", "")
	v.SetDefault("notifier.telegram.chat_id", "")
	v.SetDefault("notifier.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifier.telegram.timeout", "15s")
	v.SetDefault("notifier.kafka.brokers", []string{})
	v.SetDefault("notifier.kafka.topic", "fx-deviation-reports")
	v.SetDefault("notifier.kafka.timeout", "10s")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "fxreport")

	v.SetDefault("http.listen_addr", ":8080")
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

func (c *Config) normalise() {
	c.Rates.Base = strings.ToUpper(strings.TrimSpace(c.Rates.Base))
	// invalid lists are left as-is for Validate to report
	if symbols, err := rates.ParseSymbols(c.Rates.Symbols); err == nil {
		c.Rates.Symbols = symbols
	}

	channels := make([]string, 0, len(c.Notifier.Channels))
	for _, ch := range c.Notifier.Channels {
		if ch = strings.ToLower(strings.TrimSpace(ch)); ch != "" {
			channels = append(channels, ch)
		}
	}
	c.Notifier.Channels = channels
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := rates.ParseSymbols(c.Rates.Symbols); err != nil {
		return fmt.Errorf("rates.symbols: %w", err)
	}
	if _, err := c.Scheduler.RunAtClock(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Zone(); err != nil {
		return err
	}
	if c.Scheduler.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.Scheduler.StartDate); err != nil {
			return fmt.Errorf("scheduler.start_date must be YYYY-MM-DD: %w", err)
		}
	}
	for _, ch := range c.Notifier.Channels {
		switch ch {
		case "telegram":
			if c.Notifier.Telegram.BotToken == "" {
				return fmt.Errorf("notifier.telegram.bot_token 必须配置")
			}
			if c.Notifier.Telegram.ChatID == "" {
				return fmt.Errorf("notifier.telegram.chat_id 必须配置")
			}
		case "kafka":
			if len(c.Notifier.Kafka.Brokers) == 0 {
				return fmt.Errorf("notifier.kafka.brokers must be configured")
			}
			if c.Notifier.Kafka.Topic == "" {
				return fmt.Errorf("notifier.kafka.topic must be configured")
			}
		default:
			return fmt.Errorf("unknown notifier channel %q", ch)
		}
	}
	return nil
}

// RunAtClock parses run_at as hours and minutes after midnight.
func (s SchedulerConfig) RunAtClock() (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.RunAt))
	if err != nil {
		return 0, fmt.Errorf("scheduler.run_at must be HH:MM: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Zone resolves the scheduler location, defaulting to UTC.
func (s SchedulerConfig) Zone() (*time.Location, error) {
	if s.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return nil, fmt.Errorf("scheduler.location: %w", err)
	}
	return loc, nil
}
