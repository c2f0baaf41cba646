// Package config provides configuration for the CLI.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is shared with the service configuration.
const EnvPrefix = "TRACELY"

// Config holds CLI configuration.
type Config struct {
	// ServerURL is the pulse view API the query commands talk to.
	ServerURL string

	// Timeout bounds one request to the view API.
	Timeout time.Duration

	// Output format
	Format string // json, table, yaml

	// Verbosity
	Verbose bool

	// NoColor disables styling in the watch view.
	NoColor bool
}

// DefaultConfig returns the configuration from TRACELY_* environment
// variables over built-in defaults.
func DefaultConfig() *Config {
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("cli_timeout", 30*time.Second)
	v.SetDefault("format", "table")
	v.SetDefault("verbose", false)
	v.SetDefault("no_color", false)
	return v
}

// FromViper reads the CLI settings from v.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		ServerURL: strings.TrimRight(v.GetString("server_url"), "/"),
		Timeout:   v.GetDuration("cli_timeout"),
		Format:    strings.ToLower(v.GetString("format")),
		Verbose:   v.GetBool("verbose"),
		NoColor:   v.GetBool("no_color"),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}
