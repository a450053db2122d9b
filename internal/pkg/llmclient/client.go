// Package llmclient performs single chat-completion calls against
// OpenAI-compatible providers, both buffered and streamed.
//
// Retries are the caller's concern; this client only classifies failures
// (see core.ClassifyStatus) and guards each endpoint with a circuit breaker.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"englishcorner/internal/core"
	"englishcorner/internal/providers"
)

// maxErrorBody caps how much of a non-success body is read for classification.
const maxErrorBody = 64 << 10

// Config holds configuration for the client.
type Config struct {
	// StreamIdleTimeout aborts a stream when no line arrives for this long. Zero disables it.
	StreamIdleTimeout time.Duration

	// CircuitBreaker enables per-endpoint breaking when non-nil.
	CircuitBreaker *CircuitBreakerConfig

	Hooks Hooks
}

// Target is a resolved provider credential: which variant to speak, where and with which key.
type Target struct {
	Provider providers.Spec
	BaseURL  string
	APIKey   string
}

func (t Target) name() string {
	if t.Provider == nil {
		return ""
	}
	return string(t.Provider.Name())
}

// Client sends chat requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New creates a client. A nil httpClient means http.DefaultClient.
func New(httpClient *http.Client, config Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		config:     config,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// Complete performs a non-streaming call and returns the parsed reply.
func (c *Client) Complete(ctx context.Context, t Target, req *core.ChatRequest) (*core.AIResponse, error) {
	info := RequestInfo{Provider: t.name(), Endpoint: endpoint(t), Stream: false}
	start := time.Now()
	ctx = c.config.Hooks.start(ctx, info)

	out, status, err := c.complete(ctx, t, req)
	c.config.Hooks.end(ctx, ResponseInfo{
		RequestInfo: info,
		StatusCode:  status,
		Duration:    time.Since(start),
		Err:         err,
	})
	return out, err
}

func (c *Client) complete(ctx context.Context, t Target, req *core.ChatRequest) (*core.AIResponse, int, error) {
	resp, err := c.send(ctx, t, req)
	if err != nil {
		return nil, statusOf(err), err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, core.NewNetworkError(t.name(), err)
	}
	out, err := ParseCompletion(t.name(), body)
	return out, resp.StatusCode, err
}

// send issues the request and returns the response only for 2xx statuses.
// Any other status is read, closed and classified.
func (c *Client) send(ctx context.Context, t Target, req *core.ChatRequest) (*http.Response, error) {
	httpReq, err := buildRequest(ctx, t, req)
	if err != nil {
		return nil, err
	}

	do := func() (*http.Response, error) {
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, core.NewNetworkError(t.name(), err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, core.ClassifyStatus(t.name(), resp.StatusCode, body)
	}

	cb := c.breaker(t)
	if cb == nil {
		return do()
	}
	resp, err := cb.Execute(do)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &core.ChatError{
			Kind:     core.KindTransientServer,
			Message:  "AI service is temporarily unavailable, please try again later",
			Provider: t.name(),
			Detail:   "circuit breaker open for " + endpoint(t),
			Err:      err,
		}
	}
	return resp, err
}

func buildRequest(ctx context.Context, t Target, req *core.ChatRequest) (*http.Request, error) {
	if t.Provider == nil {
		return nil, core.NewInvalidRequestError("no provider selected", nil)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(t), bytes.NewReader(body))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if id := core.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	t.Provider.Authorize(httpReq, t.APIKey)
	return httpReq, nil
}

func endpoint(t Target) string {
	if t.Provider == nil {
		return ""
	}
	return t.Provider.Endpoint(t.BaseURL)
}

func statusOf(err error) int {
	var ce *core.ChatError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
