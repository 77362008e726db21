package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Signing      SigningConfig      `mapstructure:"signing"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Records      RecordsConfig      `mapstructure:"records"`
	Notification NotificationConfig `mapstructure:"notification"`
	Expiry       ExpiryConfig       `mapstructure:"expiry"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Port    int    `mapstructure:"port"`
	Env     string `mapstructure:"env"`
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TokenTTL time.Duration `mapstructure:"token_ttl"` // seconds in config
}

// StorageConfig describes the folder layout of the blob store.
type StorageConfig struct {
	BasePath          string        `mapstructure:"base_path"`
	SourceFolder      string        `mapstructure:"source_folder"`      // Uploaded source documents
	SignedFolder      string        `mapstructure:"signed_folder"`      // Per-signer signed copies
	FinalFolder       string        `mapstructure:"final_folder"`       // Merged final documents
	CertificateFolder string        `mapstructure:"certificate_folder"` // Completion certificates
	VersionFolder     string        `mapstructure:"version_folder"`     // Document version snapshots
	Timeout           time.Duration `mapstructure:"timeout"`            // seconds in config
}

// SigningConfig tunes the signing workflow and field rendering.
type SigningConfig struct {
	EnforceSignOrder bool    `mapstructure:"enforce_sign_order"`
	DefaultFontSize  float64 `mapstructure:"default_font_size"`
	LineGap          float64 `mapstructure:"line_gap"`
	Inset            float64 `mapstructure:"inset"`
	BaselineOffset   float64 `mapstructure:"baseline_offset"`
	DateLayout       string  `mapstructure:"date_layout"`
	Compress         bool    `mapstructure:"compress"`
}

// APIKey maps a management API key onto a tenant scope.
type APIKey struct {
	Key    string `mapstructure:"key"`
	BaseID string `mapstructure:"base_id"`
	Actor  string `mapstructure:"actor"`
}

type AuthConfig struct {
	APIKeys []APIKey `mapstructure:"api_keys"`
}

type WebhookConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoints []string      `mapstructure:"endpoints"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"` // seconds in config
}

// RecordsConfig points at the workspace record API used for status propagation.
type RecordsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"` // seconds in config
}

type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"` // seconds in config
}

type ExpiryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"` // seconds in config
	BatchSize int           `mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func NewConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Enable environment variable override
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.normalize()

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "signflow")
	viper.SetDefault("app.port", 8080)
	viper.SetDefault("app.env", "development")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("redis.token_ttl", 86400)
	viper.SetDefault("storage.base_path", "./data")
	viper.SetDefault("storage.source_folder", "source")
	viper.SetDefault("storage.signed_folder", "signed")
	viper.SetDefault("storage.final_folder", "final")
	viper.SetDefault("storage.certificate_folder", "certificates")
	viper.SetDefault("storage.version_folder", "versions")
	viper.SetDefault("storage.timeout", 15)
	viper.SetDefault("signing.default_font_size", 12)
	viper.SetDefault("signing.line_gap", 2)
	viper.SetDefault("signing.inset", 2)
	viper.SetDefault("signing.baseline_offset", 4)
	viper.SetDefault("signing.date_layout", "2006-01-02")
	viper.SetDefault("signing.compress", true)
	viper.SetDefault("webhook.timeout", 10)
	viper.SetDefault("records.timeout", 10)
	viper.SetDefault("notification.timeout", 10)
	viper.SetDefault("expiry.enabled", true)
	viper.SetDefault("expiry.interval", 60)
	viper.SetDefault("expiry.batch_size", 100)
	viper.SetDefault("logging.level", "info")
}

// normalize converts second-based values to durations and fills rendering defaults.
func (c *Config) normalize() {
	c.Redis.TokenTTL = c.Redis.TokenTTL * time.Second
	c.Storage.Timeout = c.Storage.Timeout * time.Second
	c.Webhook.Timeout = c.Webhook.Timeout * time.Second
	c.Records.Timeout = c.Records.Timeout * time.Second
	c.Notification.Timeout = c.Notification.Timeout * time.Second
	c.Expiry.Interval = c.Expiry.Interval * time.Second

	if c.Signing.DefaultFontSize <= 0 {
		c.Signing.DefaultFontSize = 12
	}
	if c.Signing.DateLayout == "" {
		c.Signing.DateLayout = "2006-01-02"
	}
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// FindAPIKey returns the tenant scope bound to key, if any.
func (c *Config) FindAPIKey(key string) (APIKey, bool) {
	for _, k := range c.Auth.APIKeys {
		if k.Key != "" && k.Key == key {
			return k, true
		}
	}
	return APIKey{}, false
}
