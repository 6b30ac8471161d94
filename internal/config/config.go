// Package config provides YAML-based configuration loading for Signalbox.
// Secrets may be supplied through the environment (or a .env file) and
// override whatever the YAML file holds.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gateways  GatewaysConfig  `yaml:"gateways"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Sentry    SentryConfig    `yaml:"sentry"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the GORM driver and how to reach it. DSN wins
// over the discrete host/port fields when set.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, postgres, sqlite
	DSN          string `yaml:"dsn" env:"SIGNALBOX_DB_DSN"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password" env:"SIGNALBOX_DB_PASSWORD"`
	Name         string `yaml:"name"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// SchedulerConfig holds the job schedules and limits of the queue processor.
// Specs accept robfig/cron syntax: descriptors (@hourly, @every 30s) and
// 5-field expressions, evaluated in UTC.
type SchedulerConfig struct {
	DrainSpec          string `yaml:"drain_spec"`
	ScheduleSpec       string `yaml:"schedule_spec"`
	MetricsSpec        string `yaml:"metrics_spec"`
	CleanupSpec        string `yaml:"cleanup_spec"`
	BatchSize          int    `yaml:"batch_size"`
	RetentionDays      int    `yaml:"retention_days"`
	SendTimeoutSec     int    `yaml:"send_timeout_sec"`
	JobTimeoutSec      int    `yaml:"job_timeout_sec"`
	ScheduleWindowMins int    `yaml:"schedule_window_mins"`
}

// SendTimeout returns the per-send gateway timeout.
func (s SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutSec) * time.Second
}

// JobTimeout returns the upper bound on a single job run.
func (s SchedulerConfig) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutSec) * time.Second
}

// Retention returns how long terminal queue rows are kept.
func (s SchedulerConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// ScheduleWindow returns how long after its HH:MM a schedule trigger may
// fire. A negative schedule_window_mins demands the exact minute and is
// returned as -1ns.
func (s SchedulerConfig) ScheduleWindow() time.Duration {
	if s.ScheduleWindowMins < 0 {
		return -1
	}
	return time.Duration(s.ScheduleWindowMins) * time.Minute
}

// GatewaysConfig configures the outbound messaging platforms.
type GatewaysConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// WhatsAppConfig picks a WhatsApp provider: zapi, twilio or simulated.
type WhatsAppConfig struct {
	Provider string       `yaml:"provider"`
	ZAPI     ZAPIConfig   `yaml:"zapi"`
	Twilio   TwilioConfig `yaml:"twilio"`
}

// ZAPIConfig holds Z-API instance credentials.
type ZAPIConfig struct {
	BaseURL     string `yaml:"base_url"`
	InstanceID  string `yaml:"instance_id" env:"ZAPI_INSTANCE_ID"`
	Token       string `yaml:"token" env:"ZAPI_TOKEN"`
	ClientToken string `yaml:"client_token" env:"ZAPI_CLIENT_TOKEN"`
}

// TwilioConfig holds Twilio WhatsApp credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	From       string `yaml:"from" env:"TWILIO_WHATSAPP_FROM"`
}

// TelegramConfig holds the Bot API token.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	APIURL   string `yaml:"api_url"`
}

// SlackConfig holds the Slack bot token.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
}

// DiscordConfig holds the Discord bot token.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" env:"DISCORD_BOT_TOKEN"`
}

// RedisConfig enables the scheduler leader lock.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password" env:"REDIS_PASSWORD"`
	DB         int    `yaml:"db"`
	LockKey    string `yaml:"lock_key"`
	LockTTLSec int    `yaml:"lock_ttl_sec"`
}

// LockTTL returns the leader lock lifetime.
func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSec) * time.Second
}

// AMQPConfig enables publishing delivery events to a topic exchange.
type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange"`
}

// SentryConfig enables error reporting for scheduler failures.
type SentryConfig struct {
	DSN         string `yaml:"dsn" env:"SENTRY_DSN"`
	Environment string `yaml:"environment"`
}

// LogConfig controls the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format"` // text, json
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, overlays environment secrets, and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "signalbox.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "signalbox"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	s := &c.Scheduler
	if s.DrainSpec == "" {
		s.DrainSpec = "@every 30s"
	}
	if s.ScheduleSpec == "" {
		s.ScheduleSpec = "*/5 * * * *"
	}
	if s.MetricsSpec == "" {
		s.MetricsSpec = "@hourly"
	}
	if s.CleanupSpec == "" {
		s.CleanupSpec = "0 0 * * *"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 50
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 30
	}
	if s.SendTimeoutSec == 0 {
		s.SendTimeoutSec = 10
	}
	if s.JobTimeoutSec == 0 {
		s.JobTimeoutSec = 120
	}
	if s.ScheduleWindowMins == 0 {
		s.ScheduleWindowMins = 5
	}

	if c.Gateways.WhatsApp.Provider == "" {
		c.Gateways.WhatsApp.Provider = "simulated"
	}
	if c.Gateways.WhatsApp.ZAPI.BaseURL == "" {
		c.Gateways.WhatsApp.ZAPI.BaseURL = "https://api.z-api.io"
	}
	if c.Gateways.Telegram.APIURL == "" {
		c.Gateways.Telegram.APIURL = "https://api.telegram.org"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "signalbox:scheduler:leader"
	}
	if c.Redis.LockTTLSec == 0 {
		c.Redis.LockTTLSec = 60
	}

	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "signalbox.events"
	}

	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "development"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, mysql or postgres", c.Database.Driver))
	}
	if c.Scheduler.BatchSize < 0 {
		errs = append(errs, "scheduler.batch_size must be positive")
	}
	if c.Scheduler.RetentionDays < 0 {
		errs = append(errs, "scheduler.retention_days must be positive")
	}
	if c.Scheduler.SendTimeoutSec < 0 {
		errs = append(errs, "scheduler.send_timeout_sec must be positive")
	}

	wa := c.Gateways.WhatsApp
	switch wa.Provider {
	case "simulated":
	case "zapi":
		if wa.ZAPI.InstanceID == "" || wa.ZAPI.Token == "" {
			errs = append(errs, "gateways.whatsapp.zapi requires instance_id and token")
		}
	case "twilio":
		if wa.Twilio.AccountSID == "" || wa.Twilio.AuthToken == "" || wa.Twilio.From == "" {
			errs = append(errs, "gateways.whatsapp.twilio requires account_sid, auth_token and from")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateways.whatsapp.provider %q must be zapi, twilio or simulated", wa.Provider))
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		errs = append(errs, "amqp.url is required when amqp is enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
