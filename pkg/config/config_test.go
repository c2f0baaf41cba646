package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	envVars := []string{
		"TRACELY_ENV", "TRACELY_VERSION", "TRACELY_HTTP_PORT", "TRACELY_API_URL",
		"TRACELY_API_TOKEN", "TRACELY_ORG_SLUG", "TRACELY_PROJECT_SLUG",
		"TRACELY_PROJECT_ID", "TRACELY_BUFFER_SIZE", "TRACELY_BOTTLENECK_RATIO",
		"TRACELY_RECONNECT_INITIAL", "TRACELY_RECONNECT_MAX_RETRIES",
		"TRACELY_REDIS_URL", "TRACELY_LOG_LEVEL", "TRACELY_LOG_FORMAT",
		"TRACELY_TRACING_ENABLED", "TRACELY_TRACING_SAMPLING",
	}
	for _, key := range envVars {
		if val, ok := os.LookupEnv(key); ok {
			t.Setenv(key, val)
			os.Unsetenv(key)
		}
	}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.ServiceName != "test-service" {
			t.Errorf("ServiceName = %v, want %v", cfg.ServiceName, "test-service")
		}
		if cfg.Environment != "development" {
			t.Errorf("Environment = %v, want %v", cfg.Environment, "development")
		}
		if cfg.HTTPPort != 8080 {
			t.Errorf("HTTPPort = %v, want %v", cfg.HTTPPort, 8080)
		}
		if cfg.APIURL != "http://localhost:8000" {
			t.Errorf("APIURL = %v, want %v", cfg.APIURL, "http://localhost:8000")
		}
		if cfg.BufferSize != 5000 {
			t.Errorf("BufferSize = %v, want %v", cfg.BufferSize, 5000)
		}
		if cfg.BottleneckRatio != 0.5 {
			t.Errorf("BottleneckRatio = %v, want %v", cfg.BottleneckRatio, 0.5)
		}
		if cfg.HistoryPageSize != 50 {
			t.Errorf("HistoryPageSize = %v, want %v", cfg.HistoryPageSize, 50)
		}
		if cfg.ReconnectInitial != time.Second {
			t.Errorf("ReconnectInitial = %v, want %v", cfg.ReconnectInitial, time.Second)
		}
		if cfg.ReconnectMax != 30*time.Second {
			t.Errorf("ReconnectMax = %v, want %v", cfg.ReconnectMax, 30*time.Second)
		}
		if cfg.ReconnectMaxRetries != 10 {
			t.Errorf("ReconnectMaxRetries = %v, want %v", cfg.ReconnectMaxRetries, 10)
		}
		if cfg.UseRedisCache() {
			t.Errorf("UseRedisCache() = %v, want %v", cfg.UseRedisCache(), false)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, "info")
		}
		if cfg.LogFormat != "json" {
			t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, "json")
		}
		if cfg.TracingEnabled {
			t.Errorf("TracingEnabled = %v, want %v", cfg.TracingEnabled, false)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("TRACELY_ENV", "production")
		t.Setenv("TRACELY_VERSION", "1.2.3")
		t.Setenv("TRACELY_HTTP_PORT", "8888")
		t.Setenv("TRACELY_API_URL", "https://api.tracely.sh/")
		t.Setenv("TRACELY_ORG_SLUG", "acme")
		t.Setenv("TRACELY_PROJECT_SLUG", "shop")
		t.Setenv("TRACELY_PROJECT_ID", "6f1c2a44-3f0e-4b8e-9c55-0d2b7f1e9a10")
		t.Setenv("TRACELY_BUFFER_SIZE", "1000")
		t.Setenv("TRACELY_BOTTLENECK_RATIO", "0.75")
		t.Setenv("TRACELY_RECONNECT_INITIAL", "250ms")
		t.Setenv("TRACELY_RECONNECT_MAX_RETRIES", "3")
		t.Setenv("TRACELY_REDIS_URL", "redis://cache:6379/1")
		t.Setenv("TRACELY_LOG_LEVEL", "debug")
		t.Setenv("TRACELY_LOG_FORMAT", "text")
		t.Setenv("TRACELY_TRACING_ENABLED", "true")
		t.Setenv("TRACELY_TRACING_SAMPLING", "0.5")

		cfg, err := Load("prod-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Environment != "production" {
			t.Errorf("Environment = %v, want %v", cfg.Environment, "production")
		}
		if cfg.Version != "1.2.3" {
			t.Errorf("Version = %v, want %v", cfg.Version, "1.2.3")
		}
		if cfg.HTTPPort != 8888 {
			t.Errorf("HTTPPort = %v, want %v", cfg.HTTPPort, 8888)
		}
		if cfg.APIURL != "https://api.tracely.sh" {
			t.Errorf("APIURL = %v, want %v", cfg.APIURL, "https://api.tracely.sh")
		}
		if !cfg.HasProject() {
			t.Errorf("HasProject() = %v, want %v", cfg.HasProject(), true)
		}
		if cfg.BufferSize != 1000 {
			t.Errorf("BufferSize = %v, want %v", cfg.BufferSize, 1000)
		}
		if cfg.BottleneckRatio != 0.75 {
			t.Errorf("BottleneckRatio = %v, want %v", cfg.BottleneckRatio, 0.75)
		}
		if cfg.ReconnectInitial != 250*time.Millisecond {
			t.Errorf("ReconnectInitial = %v, want %v", cfg.ReconnectInitial, 250*time.Millisecond)
		}
		if cfg.ReconnectMaxRetries != 3 {
			t.Errorf("ReconnectMaxRetries = %v, want %v", cfg.ReconnectMaxRetries, 3)
		}
		if !cfg.UseRedisCache() {
			t.Errorf("UseRedisCache() = %v, want %v", cfg.UseRedisCache(), true)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, "debug")
		}
		if cfg.LogFormat != "text" {
			t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, "text")
		}
		if !cfg.TracingEnabled {
			t.Errorf("TracingEnabled = %v, want %v", cfg.TracingEnabled, true)
		}
		if cfg.TracingSampling != 0.5 {
			t.Errorf("TracingSampling = %v, want %v", cfg.TracingSampling, 0.5)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestBase_Validate(t *testing.T) {
	valid := func() *Base {
		return &Base{
			APIURL:          "http://localhost:8000",
			ProjectID:       "6f1c2a44-3f0e-4b8e-9c55-0d2b7f1e9a10",
			BufferSize:      5000,
			BottleneckRatio: 0.5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Base)
		wantErr bool
	}{
		{"valid", func(*Base) {}, false},
		{"no project id", func(c *Base) { c.ProjectID = "" }, false},
		{"missing api url", func(c *Base) { c.APIURL = "" }, true},
		{"bad project id", func(c *Base) { c.ProjectID = "shop" }, true},
		{"negative buffer", func(c *Base) { c.BufferSize = -1 }, true},
		{"zero ratio", func(c *Base) { c.BottleneckRatio = 0 }, true},
		{"ratio above one", func(c *Base) { c.BottleneckRatio = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBase_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"staging", false},
		{"production", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Base{Environment: tt.env}
			if got := cfg.IsDevelopment(); got != tt.want {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBase_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"development", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Base{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}
