// Package reply turns a user's message into an AI reply: it resolves the
// credential, builds the request, calls the provider with bounded retries
// and delivers the result whole or as a stream.
package reply

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/pkg/llmclient"
	"englishcorner/internal/providers"
)

// Resolver picks the credential for a user.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (*credentials.Resolved, error)
}

// Transport performs single provider calls.
type Transport interface {
	Complete(ctx context.Context, t llmclient.Target, req *core.ChatRequest) (*core.AIResponse, error)
	Stream(ctx context.Context, t llmclient.Target, req *core.ChatRequest, onDelta func(string)) error
}

// Config controls retries, timeouts and sampling defaults.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBaseDelay is multiplied by the attempt number before each retry.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// RetryJitter adds up to this fraction of the delay at random. Zero disables it.
	RetryJitter float64 `yaml:"retry_jitter"`
	// RequestTimeout bounds each non-streaming attempt. Zero disables it.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Defaults are the sampling parameters before credential and per-call overrides.
	Defaults core.GenerationConfig `yaml:"defaults"`

	// OnRetry, if set, is called before each retry wait.
	OnRetry func(provider string, attempt int, err error) `yaml:"-"`
}

// DefaultConfig returns three attempts with 1s linear backoff and a 120s attempt timeout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
		RequestTimeout: 120 * time.Second,
		Defaults:       core.DefaultGenerationConfig(providers.KimiDefaultModel),
	}
}

// Request is one reply request.
type Request struct {
	UserID  int64
	Message string
	Options *core.GenerationOptions
	// History, when non-empty, replaces the primer. See BuildMessages.
	History []core.Message
}

// Service generates replies. It never persists anything.
type Service struct {
	resolver  Resolver
	transport Transport
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(resolver Resolver, transport Transport, cfg Config) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Service{
		resolver:  resolver,
		transport: transport,
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

type call struct {
	target   llmclient.Target
	request  *core.ChatRequest
	resolved *credentials.Resolved
}

func (c call) provider() string {
	return string(c.resolved.Provider)
}

func (c call) finish(resp *core.AIResponse) *core.AIResponse {
	resp.Provider = c.provider()
	resp.Model = c.request.Model
	resp.SystemCredential = c.resolved.System
	return resp
}

func (s *Service) prepare(ctx context.Context, req Request, stream bool) (call, error) {
	resolved, err := s.resolver.Resolve(ctx, req.UserID)
	if err != nil {
		return call{}, err
	}
	spec, err := providers.Lookup(resolved.Provider)
	if err != nil {
		return call{}, core.NewInvalidRequestError("unsupported API provider", err)
	}

	cfg := s.cfg.Defaults
	if resolved.Model != "" {
		cfg.Model = resolved.Model
	}
	cfg = cfg.Merge(req.Options)

	return call{
		target: llmclient.Target{
			Provider: spec,
			BaseURL:  resolved.BaseURL,
			APIKey:   resolved.APIKey,
		},
		request:  core.NewChatRequest(cfg, BuildMessages(req.Message, req.History), stream),
		resolved: resolved,
	}, nil
}

// Generate returns the complete reply for req.
func (s *Service) Generate(ctx context.Context, req Request) (*core.AIResponse, error) {
	c, err := s.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	var resp *core.AIResponse
	attempts, err := s.retry(ctx, c.provider(), func(ctx context.Context) error {
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		out, err := s.transport.Complete(ctx, c.target, c.request)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	s.logOutcome(ctx, req.UserID, c, false, attempts, err)
	if err != nil {
		return nil, err
	}
	return c.finish(resp), nil
}

// GenerateStreaming streams the reply for req, calling onChunk with each
// fragment in order, and returns the assembled reply. A failure before any
// fragment was delivered is retried like Generate; once a fragment has been
// delivered the call fails with a stream error instead of retrying.
func (s *Service) GenerateStreaming(ctx context.Context, req Request, onChunk func(string)) (*core.AIResponse, error) {
	c, err := s.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}

	var reply strings.Builder
	forwarded := false
	attempts, err := s.retry(ctx, c.provider(), func(ctx context.Context) error {
		err := s.transport.Stream(ctx, c.target, c.request, func(delta string) {
			forwarded = true
			reply.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		})
		if err != nil && forwarded && ctx.Err() == nil {
			return core.NewStreamError(c.provider(), err)
		}
		return err
	})
	if err == nil && reply.Len() == 0 {
		err = core.NewResponseFormatError(c.provider(), core.ErrEmptyContent)
	}
	s.logOutcome(ctx, req.UserID, c, true, attempts, err)
	if err != nil {
		return nil, err
	}
	return c.finish(&core.AIResponse{Reply: reply.String()}), nil
}

// Stream is GenerateStreaming as a channel: chunk events in order, then
// exactly one done or error event, then the channel closes. Cancel ctx to
// stop early. Chunks are dropped once ctx is done, but the terminal event is
// always delivered, so the caller must drain the channel.
func (s *Service) Stream(ctx context.Context, req Request) <-chan core.StreamEvent {
	events := make(chan core.StreamEvent, 16)
	go func() {
		defer close(events)

		resp, err := s.GenerateStreaming(ctx, req, func(chunk string) {
			select {
			case events <- core.StreamEvent{Type: core.StreamEventChunk, Content: chunk}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			events <- core.StreamEvent{Type: core.StreamEventError, Err: err}
			return
		}
		events <- core.StreamEvent{Type: core.StreamEventDone, Response: resp}
	}()
	return events
}

// retry runs attempt until it succeeds, fails with a non-retryable error,
// ctx ends, or MaxAttempts is reached. It returns the number of attempts made.
func (s *Service) retry(ctx context.Context, provider string, attempt func(context.Context) error) (int, error) {
	for n := 1; ; n++ {
		err := attempt(ctx)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if n >= s.cfg.MaxAttempts || !core.IsRetryable(err) {
			return n, err
		}

		delay := s.backoff(n)
		slog.WarnContext(ctx, "provider call failed, retrying",
			"provider", provider,
			"attempt", n,
			"delay", delay,
			"error", err,
		)
		if s.cfg.OnRetry != nil {
			s.cfg.OnRetry(provider, n, err)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return n, err
		}
	}
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseDelay * time.Duration(attempt)
	if s.cfg.RetryJitter > 0 {
		d += time.Duration(rand.Float64() * s.cfg.RetryJitter * float64(d))
	}
	return d
}

func (s *Service) logOutcome(ctx context.Context, userID int64, c call, stream bool, attempts int, err error) {
	attrs := []any{
		"user_id", userID,
		"provider", c.provider(),
		"model", c.request.Model,
		"system_credential", c.resolved.System,
		"stream", stream,
		"attempts", attempts,
	}
	if err != nil {
		slog.ErrorContext(ctx, "reply generation failed", append(attrs, "error", err)...)
		return
	}
	slog.InfoContext(ctx, "reply generated", attrs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
