// Package conf loads the minichat server configuration from a YAML file.
// ${VAR} references in the file are replaced with environment values
// before parsing.
package conf

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mqy/minichat/store"
)

const (
	DefaultKafkaTopic    = "minichat-events"
	DefaultEventMaxBytes = 4096

	MinJWTSecretLen = 16
)

type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Auth   AuthConfig   `yaml:"auth"`
	Limits LimitsConfig `yaml:"limits"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

type StoreConfig struct {
	// Driver is one of store.DriverBolt, store.DriverMysql.
	Driver string `yaml:"driver"`
	// Bolt file path or mysql dsn.
	Source string `yaml:"source"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"-"`
	BcryptCost int           `yaml:"bcrypt_cost"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

type LimitsConfig struct {
	LoginAttempts int           `yaml:"login_attempts"`
	LoginWindow   time.Duration `yaml:"-"`
	Messages      int           `yaml:"messages"`
	MessageWindow time.Duration `yaml:"-"`
	MaxBodyBytes  int           `yaml:"max_body_bytes"`

	LoginWindowRaw   string `yaml:"login_window"`
	MessageWindowRaw string `yaml:"message_window"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	MaxBytes int      `yaml:"max_bytes"`
}

// Default returns a config good for local development. The jwt secret must
// still be supplied.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: store.DriverBolt,
			Source: "data/minichat.db",
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		Limits: LimitsConfig{
			LoginAttempts: 5,
			LoginWindow:   15 * time.Minute,
			Messages:      10,
			MessageWindow: time.Minute,
			MaxBodyBytes:  4096,
		},
		Kafka: KafkaConfig{
			Brokers:  []string{"127.0.0.1:9092"},
			Topic:    DefaultKafkaTopic,
			MaxBytes: DefaultEventMaxBytes,
		},
	}
}

// Load reads path over Default() and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parse durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${NAME} with the value of env NAME, empty if unset.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"limits.login_window", cfg.Limits.LoginWindowRaw, &cfg.Limits.LoginWindow},
		{"limits.message_window", cfg.Limits.MessageWindowRaw, &cfg.Limits.MessageWindow},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverBolt, store.DriverMysql:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Source == "" {
		return fmt.Errorf("store.source is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret: at least %d bytes required", MinJWTSecretLen)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl: should be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost: expect in range [4, 31]")
	}

	if c.Limits.LoginAttempts <= 0 || c.Limits.LoginWindow <= 0 {
		return fmt.Errorf("limits: login_attempts and login_window should be positive")
	}
	if c.Limits.Messages <= 0 || c.Limits.MessageWindow <= 0 {
		return fmt.Errorf("limits: messages and message_window should be positive")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits.max_body_bytes: should be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
		if c.Kafka.MaxBytes <= 0 {
			return fmt.Errorf("kafka.max_bytes: should be positive")
		}
	}
	return nil
}
