// Package config loads application configuration from an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"englishcorner/internal/cache"
	"englishcorner/internal/credentials"
	"englishcorner/internal/logging"
	"englishcorner/internal/pkg/llmclient"
	"englishcorner/internal/reply"
	"englishcorner/internal/storage"
	"englishcorner/internal/usage"
)

// DefaultEncryptionKey is used when API_KEY_ENCRYPTION_KEY is unset. It must be replaced in production.
const DefaultEncryptionKey = "default-key-change-in-production"

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig                 `yaml:"server"`
	Logging  logging.Config               `yaml:"logging"`
	Metrics  MetricsConfig                `yaml:"metrics"`
	Storage  storage.Config               `yaml:"storage"`
	Cache    CacheConfig                  `yaml:"cache"`
	Usage    usage.Config                 `yaml:"usage"`
	System   credentials.SystemCredential `yaml:"system"`
	Security SecurityConfig               `yaml:"security"`
	Reply    reply.Config                 `yaml:"reply"`
	Provider ProviderConfig               `yaml:"provider"`
	Probe    ProbeConfig                  `yaml:"probe"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey, when set, is required as a Bearer token on /api routes.
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit uses echo's format, e.g. "1M" or "512K".
	BodySizeLimit   string        `yaml:"body_size_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// CacheConfig selects where discovered Ollama model lists are kept.
type CacheConfig struct {
	// Type is "local" or "redis".
	Type  string            `yaml:"type"`
	TTL   time.Duration     `yaml:"ttl"`
	Redis cache.RedisConfig `yaml:"redis"`
}

type SecurityConfig struct {
	// EncryptionKey derives the key that encrypts stored provider API keys.
	EncryptionKey  string `yaml:"encryption_key"`
	EncryptionSalt string `yaml:"encryption_salt"`
}

// ProviderConfig tunes outbound provider calls.
type ProviderConfig struct {
	StreamIdleTimeout time.Duration                  `yaml:"stream_idle_timeout"`
	CircuitBreaker    llmclient.CircuitBreakerConfig `yaml:"circuit_breaker"`
	// BreakerEnabled turns the per-endpoint circuit breaker on.
	BreakerEnabled bool `yaml:"breaker_enabled"`
}

type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			BodySizeLimit:   "1M",
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: logging.Config{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Endpoint: "/metrics"},
		Storage: storage.DefaultConfig(),
		Cache:   CacheConfig{Type: "local", TTL: cache.DefaultTTL},
		Usage:   usage.DefaultConfig(),
		Security: SecurityConfig{
			EncryptionKey:  DefaultEncryptionKey,
			EncryptionSalt: "englishcorner-credentials",
		},
		Reply: reply.DefaultConfig(),
		Provider: ProviderConfig{
			StreamIdleTimeout: 60 * time.Second,
			CircuitBreaker: llmclient.CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
			BreakerEnabled: true,
		},
		Probe: ProbeConfig{Timeout: 30 * time.Second},
	}
}

// Load reads .env (if present), then the YAML file at path (if present), then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Security.EncryptionKey == DefaultEncryptionKey {
		slog.Warn("API_KEY_ENCRYPTION_KEY is not set; stored API keys use the default encryption key")
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if err := ValidateBodySizeLimit(c.Server.BodySizeLimit); err != nil {
		return err
	}
	switch c.Storage.Type {
	case storage.TypeMemory, storage.TypeSQLite, storage.TypePostgreSQL, storage.TypeMongoDB:
	default:
		return fmt.Errorf("invalid storage type %q (valid: memory, sqlite, postgresql, mongodb)", c.Storage.Type)
	}
	switch c.Cache.Type {
	case "local":
	case "redis":
		if c.Cache.Redis.URL == "" {
			return fmt.Errorf("cache.redis.url is required when cache type is redis")
		}
	default:
		return fmt.Errorf("invalid cache type %q (valid: local, redis)", c.Cache.Type)
	}
	if c.Reply.MaxAttempts < 1 {
		return fmt.Errorf("reply.max_attempts must be at least 1, got %d", c.Reply.MaxAttempts)
	}
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key must not be empty")
	}
	return nil
}

var bodySizePattern = regexp.MustCompile(`^(\d+)([KkMm][Bb]?)?$`)

const (
	minBodySize = 1 << 10
	maxBodySize = 100 << 20
)

// ValidateBodySizeLimit accepts a byte count with an optional K or M unit,
// between 1KB and 100MB. An empty value means the default.
func ValidateBodySizeLimit(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return fmt.Errorf("invalid body size limit %q (examples: 1048576, 512K, 10M)", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.TrimSuffix(strings.ToUpper(m[2]), "B") {
	case "K":
		n <<= 10
	case "M":
		n <<= 20
	}
	if n < minBodySize || n > maxBodySize {
		return fmt.Errorf("body size limit %q out of range (1K to 100M)", s)
	}
	return nil
}
