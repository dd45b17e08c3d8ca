package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"farewatch/internal/logging"
)

// Scheduler modes.
const (
	ModePersistent = "persistent"
	ModeTriggered  = "triggered"
)

// Busy policies applied to a manual trigger while a check is running.
const (
	BusyPolicyStatus = "status"
	BusyPolicyReject = "reject"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Route     RouteConfig     `mapstructure:"route"`
	Amadeus   AmadeusConfig   `mapstructure:"amadeus"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Storage   StorageConfig   `mapstructure:"storage"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RouteConfig describes the itinerary being watched.
type RouteConfig struct {
	Origin      string `mapstructure:"origin"`
	Destination string `mapstructure:"destination"`
	DepartDate  string `mapstructure:"depart_date"`
	ReturnDate  string `mapstructure:"return_date"`
	Adults      int    `mapstructure:"adults"`
	Currency    string `mapstructure:"currency"`
	NonStop     bool   `mapstructure:"non_stop"`
	MaxResults  int    `mapstructure:"max_results"`
	KeepOffers  int    `mapstructure:"keep_offers"`
}

// AmadeusConfig covers the flight-offers API.
type AmadeusConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// SchedulerConfig governs check cadence.
type SchedulerConfig struct {
	Mode         string        `mapstructure:"mode"`
	Interval     time.Duration `mapstructure:"interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AlertingConfig defines the deal threshold and alert routing.
type AlertingConfig struct {
	PriceLimit float64        `mapstructure:"price_limit"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Desktop    DesktopConfig  `mapstructure:"desktop"`
	Email      EmailConfig    `mapstructure:"email"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
}

// DesktopConfig toggles local desktop notifications.
type DesktopConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	AppName string `mapstructure:"app_name"`
}

// EmailConfig describes SMTP delivery. Empty credentials disable the channel.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	To       string `mapstructure:"to"`
}

// TelegramConfig holds Telegram bot delivery settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig defines a generic signed webhook.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// StorageConfig selects the result store backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	DataDir    string         `mapstructure:"data_dir"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Database   DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BusyPolicy      string        `mapstructure:"busy_policy"`
	StatusHistory   int           `mapstructure:"status_history"`
}

// StreamConfig tunes live event delivery.
type StreamConfig struct {
	QueueSize int           `mapstructure:"queue_size"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

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

// serverless reports whether the process runs as a one-shot function invocation.
func serverless() bool {
	return os.Getenv("VERCEL") == "1"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "farewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("route.origin", "PEK")
	v.SetDefault("route.destination", "ARN")
	v.SetDefault("route.depart_date", "2026-06-16")
	v.SetDefault("route.return_date", "2026-09-12")
	v.SetDefault("route.adults", 1)
	v.SetDefault("route.currency", "SEK")
	v.SetDefault("route.non_stop", true)
	v.SetDefault("route.max_results", 10)
	v.SetDefault("route.keep_offers", 5)

	v.SetDefault("amadeus.base_url", "https://test.api.amadeus.com")
	v.SetDefault("amadeus.request_timeout", "20s")
	v.SetDefault("amadeus.max_retries", 3)

	v.SetDefault("scheduler.mode", ModePersistent)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.poll_interval", "30s")

	v.SetDefault("alerting.price_limit", 8000.0)
	v.SetDefault("alerting.timeout", "15s")
	v.SetDefault("alerting.desktop.enabled", false)
	v.SetDefault("alerting.desktop.app_name", "Flight Price Checker")
	v.SetDefault("alerting.email.host", "smtp.gmail.com")
	v.SetDefault("alerting.email.port", 465)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.data_dir", ".")
	v.SetDefault("storage.database.max_open_conns", 10)
	v.SetDefault("storage.database.max_idle_conns", 2)
	v.SetDefault("storage.database.conn_max_lifetime", "30m")

	v.SetDefault("http.listen", ":5050")
	v.SetDefault("http.read_timeout", "15s")
	// Zero write timeout keeps long-lived streams and synchronous checks alive.
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.busy_policy", BusyPolicyStatus)
	v.SetDefault("http.status_history", 50)

	v.SetDefault("stream.queue_size", 20)
	v.SetDefault("stream.heartbeat", "30s")

	v.SetDefault("export.max_data_points", 5000)

	if serverless() {
		v.SetDefault("scheduler.mode", ModeTriggered)
		v.SetDefault("storage.data_dir", os.TempDir())
	}
}

// bindLegacyEnv keeps the variable names used by existing .env files working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"amadeus.client_id":       {"FAREWATCH_AMADEUS_CLIENT_ID", "AMADEUS_CLIENT_ID"},
		"amadeus.client_secret":   {"FAREWATCH_AMADEUS_CLIENT_SECRET", "AMADEUS_CLIENT_SECRET"},
		"alerting.email.username": {"FAREWATCH_ALERTING_EMAIL_USERNAME", "SMTP_EMAIL"},
		"alerting.email.password": {"FAREWATCH_ALERTING_EMAIL_PASSWORD", "SMTP_PASSWORD"},
		"alerting.email.to":       {"FAREWATCH_ALERTING_EMAIL_TO", "NOTIFY_EMAIL"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		v.SetDefault("http.listen", ":"+port)
	}
	return nil
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
	switch c.Scheduler.Mode {
	case ModePersistent, ModeTriggered:
	default:
		return fmt.Errorf("scheduler.mode must be %q or %q, got %q", ModePersistent, ModeTriggered, c.Scheduler.Mode)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if c.Alerting.PriceLimit <= 0 {
		return fmt.Errorf("alerting.price_limit must be greater than zero")
	}
	if c.Route.Origin == "" || c.Route.Destination == "" {
		return fmt.Errorf("route.origin and route.destination are required")
	}
	if c.Route.Adults <= 0 {
		return fmt.Errorf("route.adults must be greater than zero")
	}
	if c.Route.KeepOffers <= 0 {
		return fmt.Errorf("route.keep_offers must be greater than zero")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream.queue_size must be greater than zero")
	}
	if c.Stream.Heartbeat <= 0 {
		return fmt.Errorf("stream.heartbeat must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.HTTP.BusyPolicy {
	case BusyPolicyStatus, BusyPolicyReject:
	default:
		return fmt.Errorf("http.busy_policy must be %q or %q, got %q", BusyPolicyStatus, BusyPolicyReject, c.HTTP.BusyPolicy)
	}
	switch c.Storage.Driver {
	case DriverFile:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "farewatch.db")
		}
	case DriverPostgres:
		if c.Storage.Database.DSN == "" {
			return fmt.Errorf("storage.database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required when the webhook is enabled")
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

// Configured reports whether SMTP delivery has every field it needs.
func (c EmailConfig) Configured() bool {
	return c.Username != "" && c.Password != "" && c.To != "" && c.Host != ""
}
