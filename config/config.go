// Package config loads node configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all tunables for a callme node.
type Config struct {
	// ListenAddr is the UDP address the signaling transport binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// WSAddr is the WebSocket RPC listen address. Empty disables the
	// WebSocket endpoint.
	WSAddr string `mapstructure:"ws_addr"`

	// Stdio enables the newline-delimited JSON-RPC server on
	// stdin/stdout.
	Stdio bool `mapstructure:"stdio"`

	// RingTimeout is how long an unanswered call rings before it is
	// marked failed.
	RingTimeout time.Duration `mapstructure:"ring_timeout"`

	// Noise enables encrypted signaling between nodes.
	Noise bool `mapstructure:"noise"`

	// LogLevel is a logrus level name: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects "text" or "json" log output.
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		ListenAddr:  "0.0.0.0:33500",
		WSAddr:      "",
		Stdio:       true,
		RingTimeout: 30 * time.Second,
		Noise:       false,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads configuration from the given file path. An empty path loads
// defaults plus CALLME_* environment overrides only.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("ws_addr", defaults.WSAddr)
	v.SetDefault("stdio", defaults.Stdio)
	v.SetDefault("ring_timeout", defaults.RingTimeout)
	v.SetDefault("noise", defaults.Noise)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	v.SetEnvPrefix("CALLME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.RingTimeout <= 0 {
		return fmt.Errorf("ring_timeout must be positive, got %v", c.RingTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}

// ApplyLogging configures the global logrus logger from the config.
func (c Config) ApplyLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
