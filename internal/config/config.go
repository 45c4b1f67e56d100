// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port      string `mapstructure:"PORT"`
	Env       string `mapstructure:"APP_ENV"`
	JWTSecret string `mapstructure:"JWT_SECRET"`
	APIKey    string `mapstructure:"API_KEY"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBPath     string `mapstructure:"DB_PATH"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	DownloadDir string `mapstructure:"DOWNLOAD_DIR"`
	DateFloor   string `mapstructure:"DATE_FLOOR"`

	// DefaultPostLimit overrides the built-in per-source listing cap for
	// newly registered sources. Zero keeps the built-in default.
	DefaultPostLimit int `mapstructure:"DEFAULT_POST_LIMIT"`

	ExtractionWorkers int `mapstructure:"EXTRACTION_WORKERS"`
	DownloadWorkers   int `mapstructure:"DOWNLOAD_WORKERS"`

	HTTPTimeoutSeconds int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	UserAgent          string `mapstructure:"USER_AGENT"`
	ImgurClientID      string `mapstructure:"IMGUR_CLIENT_ID"`

	FeedURLUser     string `mapstructure:"FEED_URL_USER"`
	FeedURLTopic    string `mapstructure:"FEED_URL_TOPIC"`
	FeedURLComments string `mapstructure:"FEED_URL_COMMENTS"`

	RunSchedule string `mapstructure:"RUN_SCHEDULE"`
	RunOnStart  bool   `mapstructure:"RUN_ON_START"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `mapstructure:"TELEGRAM_CHAT_ID"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	// Set default values for development
	viper.SetDefault("PORT", "8418")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("API_KEY", "")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_PATH", "feedstash.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "feedstash")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("DOWNLOAD_DIR", "downloads")
	viper.SetDefault("DATE_FLOOR", "1970-01-01T00:00:00Z")
	viper.SetDefault("DEFAULT_POST_LIMIT", 0)
	viper.SetDefault("EXTRACTION_WORKERS", 4)
	viper.SetDefault("DOWNLOAD_WORKERS", 4)
	viper.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	viper.SetDefault("USER_AGENT", "feedstash/1.0")
	viper.SetDefault("IMGUR_CLIENT_ID", "")
	viper.SetDefault("FEED_URL_USER", "")
	viper.SetDefault("FEED_URL_TOPIC", "")
	viper.SetDefault("FEED_URL_COMMENTS", "")
	viper.SetDefault("RUN_SCHEDULE", "")
	viper.SetDefault("RUN_ON_START", false)
	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_CHAT_ID", 0)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DownloadDir == "" {
		return errors.New("DOWNLOAD_DIR is required")
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.DefaultPostLimit < 0 {
		return errors.New("DEFAULT_POST_LIMIT must not be negative")
	}
	if c.ExtractionWorkers < 1 {
		return errors.New("EXTRACTION_WORKERS must be at least 1")
	}
	if c.DownloadWorkers < 1 {
		return errors.New("DOWNLOAD_WORKERS must be at least 1")
	}
	if _, err := time.Parse(time.RFC3339, c.DateFloor); err != nil {
		return fmt.Errorf("DATE_FLOOR must be an RFC 3339 timestamp: %w", err)
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.APIKey == "" {
			return errors.New("API_KEY is required in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBDriver == "postgres" && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else {
		// Development/Test warnings
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// DateFloorTime returns the parsed global watermark floor. Validate has
// already checked the format, so parse errors fall back to the zero time.
func (c *Config) DateFloorTime() time.Time {
	t, err := time.Parse(time.RFC3339, c.DateFloor)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// HTTPTimeout returns the outbound HTTP client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
