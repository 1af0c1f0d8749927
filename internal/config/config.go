// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app" yaml:"app"`
	Remote        RemoteConfig       `mapstructure:"remote" yaml:"remote"`
	Storage       StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Server        ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging       LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Version     string `mapstructure:"version" yaml:"version"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Debug       bool   `mapstructure:"debug" yaml:"debug"`
	// Timezone is the IANA zone used for "today" and date-only cleaning dates
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// RemoteConfig contains the spreadsheet script endpoint configuration
type RemoteConfig struct {
	ScriptURL      string        `mapstructure:"script_url" yaml:"script_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// RequireAck rejects submissions whose response is not a success envelope
	RequireAck bool `mapstructure:"require_ack" yaml:"require_ack"`
}

// StorageConfig contains local cache database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type" yaml:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string" yaml:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time" yaml:"max_idle_time"`
}

// NotificationConfig contains overdue alert configuration
type NotificationConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL    string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port" yaml:"port"`
	Host          string        `mapstructure:"host" yaml:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics" yaml:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health" yaml:"enable_health"`

	// SubmitRate is the sustained number of submissions accepted per second
	SubmitRate  float64 `mapstructure:"submit_rate" yaml:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst" yaml:"submit_burst"`

	// TrustProxy keys the submit limiter on X-Forwarded-For instead of the peer address
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json, text
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr, file
	File   string `mapstructure:"file" yaml:"file"`
}

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "MACHINE_LOGGER"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.GetViper(), configPath)
}

// LoadWith loads configuration into the given viper instance
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "machine-logger")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.timezone", "Local")

	// Remote defaults
	v.SetDefault("remote.script_url", "")
	v.SetDefault("remote.request_timeout", "15s")
	v.SetDefault("remote.retry_attempts", 3)
	v.SetDefault("remote.retry_delay", "2s")
	v.SetDefault("remote.require_ack", true)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/logbook.db")
	v.SetDefault("storage.max_connections", 4)
	v.SetDefault("storage.max_idle_time", "15m")

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", "5s")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.submit_rate", 2.0)
	v.SetDefault("server.submit_burst", 5)
	v.SetDefault("server.trust_proxy", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Remote.ScriptURL != "" {
		u, err := url.Parse(c.Remote.ScriptURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote script URL must be an absolute http(s) URL: %q", c.Remote.ScriptURL)
		}
	}
	if c.Remote.RequestTimeout <= 0 {
		return fmt.Errorf("remote request timeout must be positive")
	}
	if c.Remote.RetryAttempts < 1 {
		return fmt.Errorf("remote retry attempts must be at least 1")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid app timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}
