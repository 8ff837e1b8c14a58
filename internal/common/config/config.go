package config

import (
	"os"
	"regexp"
	"time"

	"github.com/commune-io/relay/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// RelayConfig represents the relay server configuration
	RelayConfig struct {
		Port    int           `yaml:"port"`
		PID     string        `yaml:"pid"`
		Logger  LoggerConfig  `yaml:"logger"`
		Auth    AuthConfig    `yaml:"auth"`
		Storage StorageConfig `yaml:"storage"`
		Metrics MetricsConfig `yaml:"metrics"`
	}

	// AuthConfig defines how bearer credentials are verified
	AuthConfig struct {
		// PublicKeyPath points to the PEM-encoded RSA public key used to
		// verify bearer tokens
		PublicKeyPath string `yaml:"public_key_path"`
		// PrivateKeyPath is optional; only needed when this process also
		// mints tokens (login flow, local development)
		PrivateKeyPath string `yaml:"private_key_path"`
	}

	// StorageConfig represents the persisted store configuration
	StorageConfig struct {
		Type  string             `yaml:"type"`  // "memory" or "redis"
		Redis StorageRedisConfig `yaml:"redis"` // Redis configuration
	}

	// StorageRedisConfig represents the Redis configuration for the
	// session and notification stores
	StorageRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // TTL for session data in Redis, 0 means no expiry
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*RelayConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg RelayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	setDefaults(&cfg)
	return &cfg, cfgPath, nil
}

// setDefaults fills in defaults after unmarshalling
func setDefaults(cfg *RelayConfig) {
	if cfg.Port == 0 {
		cfg.Port = 5235
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "relay"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "relay"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
