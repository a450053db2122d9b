package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty and has no default is left as written.
func expandString(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		return match
	})
}

// applyEnvOverrides copies well-known environment variables over cfg.
func applyEnvOverrides(cfg *Config) error {
	setString("PORT", &cfg.Server.Port)
	setString("MASTER_KEY", &cfg.Server.MasterKey)
	setString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	setString("KIMI_API_KEY", &cfg.System.APIKey)
	setString("KIMI_API_BASE_URL", &cfg.System.BaseURL)
	setString("KIMI_MODEL", &cfg.System.Model)

	setString("API_KEY_ENCRYPTION_KEY", &cfg.Security.EncryptionKey)
	setString("API_KEY_ENCRYPTION_SALT", &cfg.Security.EncryptionSalt)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.Redis.URL = url
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns))
	collect(setInt("AI_MAX_ATTEMPTS", &cfg.Reply.MaxAttempts))
	collect(setDuration("AI_REQUEST_TIMEOUT", &cfg.Reply.RequestTimeout))
	collect(setDuration("AI_RETRY_BASE_DELAY", &cfg.Reply.RetryBaseDelay))
	collect(setDuration("AI_STREAM_IDLE_TIMEOUT", &cfg.Provider.StreamIdleTimeout))
	collect(setDuration("AI_PROBE_TIMEOUT", &cfg.Probe.Timeout))
	collect(setBool("METRICS_ENABLED", &cfg.Metrics.Enabled))
	collect(setBool("USAGE_ENABLED", &cfg.Usage.Enabled))
	collect(setBool("CIRCUIT_BREAKER_ENABLED", &cfg.Provider.BreakerEnabled))
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// setDuration accepts integer seconds or a Go duration string.
func setDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
