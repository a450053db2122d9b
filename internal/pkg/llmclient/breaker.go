package llmclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"englishcorner/internal/core"
)

// CircuitBreakerConfig configures per-endpoint circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive retryable failures that opens the circuit.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration `yaml:"timeout"`
	// Interval clears failure counts while closed. Zero keeps them until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// breaker returns the breaker for t's endpoint, creating it on first use.
// Each user-supplied base URL gets its own breaker so one broken endpoint
// never blocks others.
func (c *Client) breaker(t Target) *gobreaker.CircuitBreaker[*http.Response] {
	cfg := c.config.CircuitBreaker
	if cfg == nil {
		return nil
	}
	key := t.name() + " " + endpoint(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[key]; ok {
		return cb
	}

	failures := cfg.MaxFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Only provider-side trouble counts: caller cancellation and
			// rejected keys say nothing about the endpoint's health.
			return err == nil || errors.Is(err, context.Canceled) || !core.IsRetryable(err)
		},
	})
	c.breakers[key] = cb
	return cb
}
