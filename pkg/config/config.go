// Package config provides configuration loading from environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "TRACELY"

// Base contains configuration shared by the pulse server and the CLI.
type Base struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Server
	HTTPPort        int
	ShutdownTimeout time.Duration

	// TRACELY API
	APIURL      string
	APIToken    string
	OrgSlug     string
	ProjectSlug string
	ProjectID   string
	HTTPTimeout time.Duration

	// Span buffer and tree policy
	BufferSize      int
	BottleneckRatio float64
	HistoryPageSize int

	// Stream reconnect policy
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxRetries int

	// Span detail cache
	RedisURL   string
	CacheTTL   time.Duration
	CacheItems int64

	// Observability
	LogLevel  string
	LogFormat string // json, text

	// Tracing
	TracingEnabled  bool
	TracingSampling float64
	OTLPEndpoint    string
}

// Load loads base configuration. Values come from TRACELY_* environment
// variables, then from tracely.yaml in the working directory or
// $HOME/.tracely, then from defaults.
func Load(serviceName string) (*Base, error) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return fromViper(v, serviceName), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("tracely")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.tracely")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("version", "dev")
	v.SetDefault("http_port", 8080)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("api_token", "")
	v.SetDefault("org_slug", "")
	v.SetDefault("project_slug", "")
	v.SetDefault("project_id", "")
	v.SetDefault("http_timeout", 15*time.Second)

	v.SetDefault("buffer_size", 5000)
	v.SetDefault("bottleneck_ratio", 0.5)
	v.SetDefault("history_page_size", 50)

	v.SetDefault("reconnect_initial", time.Second)
	v.SetDefault("reconnect_max", 30*time.Second)
	v.SetDefault("reconnect_max_retries", 10)

	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("cache_items", 10000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_sampling", 1.0)
	v.SetDefault("otlp_endpoint", "localhost:4317")
	return v
}

func fromViper(v *viper.Viper, serviceName string) *Base {
	return &Base{
		ServiceName: serviceName,
		Environment: v.GetString("env"),
		Version:     v.GetString("version"),

		HTTPPort:        v.GetInt("http_port"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		APIURL:      strings.TrimRight(v.GetString("api_url"), "/"),
		APIToken:    v.GetString("api_token"),
		OrgSlug:     v.GetString("org_slug"),
		ProjectSlug: v.GetString("project_slug"),
		ProjectID:   v.GetString("project_id"),
		HTTPTimeout: v.GetDuration("http_timeout"),

		BufferSize:      v.GetInt("buffer_size"),
		BottleneckRatio: v.GetFloat64("bottleneck_ratio"),
		HistoryPageSize: v.GetInt("history_page_size"),

		ReconnectInitial:    v.GetDuration("reconnect_initial"),
		ReconnectMax:        v.GetDuration("reconnect_max"),
		ReconnectMaxRetries: v.GetInt("reconnect_max_retries"),

		RedisURL:   v.GetString("redis_url"),
		CacheTTL:   v.GetDuration("cache_ttl"),
		CacheItems: v.GetInt64("cache_items"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		TracingEnabled:  v.GetBool("tracing_enabled"),
		TracingSampling: v.GetFloat64("tracing_sampling"),
		OTLPEndpoint:    v.GetString("otlp_endpoint"),
	}
}

// Validate checks the fields the stream and history clients need.
func (c *Base) Validate() error {
	if c.APIURL == "" {
		return errors.New("api url is required")
	}
	if c.ProjectID != "" {
		if _, err := uuid.Parse(c.ProjectID); err != nil {
			return fmt.Errorf("invalid project id %q: %w", c.ProjectID, err)
		}
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative, got %d", c.BufferSize)
	}
	if c.BottleneckRatio <= 0 || c.BottleneckRatio > 1 {
		return fmt.Errorf("bottleneck ratio must be in (0, 1], got %v", c.BottleneckRatio)
	}
	return nil
}

// HasProject returns true if the org and project slugs are both set.
func (c *Base) HasProject() bool {
	return c.OrgSlug != "" && c.ProjectSlug != ""
}

// UseRedisCache returns true if a redis URL is configured.
func (c *Base) UseRedisCache() bool {
	return c.RedisURL != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Base) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Base) IsProduction() bool {
	return c.Environment == "production"
}
