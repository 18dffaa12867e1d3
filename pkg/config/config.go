// Package config loads logsource settings from defaults, an optional config
// file and LOGSOURCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LOGSOURCE_SOCKET.
const EnvPrefix = "LOGSOURCE"

type Config struct {
	Socket       string        `mapstructure:"socket"`
	Manifest     string        `mapstructure:"manifest"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	NATS         NATSConfig    `mapstructure:"nats"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DefaultSocket returns the control socket path, preferring XDG_RUNTIME_DIR.
func DefaultSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "logsource.sock")
	}
	return filepath.Join(os.TempDir(), "logsource.sock")
}

// DefaultFile returns the config file looked up when no path is given.
func DefaultFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "logsource", "config.yaml")
}

// Load reads configPath, or the default config file when empty. A missing
// default file is not an error; a missing explicit file is.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("socket", DefaultSocket())
	v.SetDefault("manifest", "")
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultFile()
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			switch {
			case errors.As(err, &notFound), !explicit && errors.Is(err, os.ErrNotExist):
			default:
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return &cfg, nil
}
