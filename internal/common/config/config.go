// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Weather       WeatherConfig       `mapstructure:"weather"`
	Notifications NotificationConfig  `mapstructure:"notifications"`
	Sessions      SessionConfig       `mapstructure:"sessions"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Alerts        AlertConfig         `mapstructure:"alerts"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	QueryTimeout   int    `mapstructure:"query_timeout"` // milliseconds
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WeatherConfig holds settings for the forecast and geocoding clients.
type WeatherConfig struct {
	ForecastURL  string `mapstructure:"forecast_url"`
	GeocodingURL string `mapstructure:"geocoding_url"`
	UserAgent    string `mapstructure:"user_agent"`
	Timeout      int    `mapstructure:"timeout"`     // milliseconds
	GeocodeTTL   int    `mapstructure:"geocode_ttl"` // seconds, redis cache
}

// NotificationConfig holds settings for the delivery scheduler.
type NotificationConfig struct {
	PollInterval     int `mapstructure:"poll_interval"`     // seconds
	ToleranceSeconds int `mapstructure:"tolerance_seconds"` // window around notification time
}

// SessionConfig holds settings for the session manager.
type SessionConfig struct {
	RetentionDays   int `mapstructure:"retention_days"`
	MirrorQueueSize int `mapstructure:"mirror_queue_size"`
	MirrorWorkers   int `mapstructure:"mirror_workers"`
	ProbeInterval   int `mapstructure:"probe_interval"` // seconds, store re-probe cadence
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// AlertConfig holds settings for ops alerting on store degradation.
type AlertConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ObservabilityConfig holds the metrics endpoint settings.
type ObservabilityConfig struct {
	MetricsAddress string `mapstructure:"metrics_address"`
}
