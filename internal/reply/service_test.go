package reply

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/pkg/llmclient"
	"englishcorner/internal/providers"
)

type stubResolver struct {
	resolved *credentials.Resolved
	err      error
}

func (s stubResolver) Resolve(context.Context, int64) (*credentials.Resolved, error) {
	return s.resolved, s.err
}

func systemKimi(baseURL string) stubResolver {
	return stubResolver{resolved: &credentials.Resolved{
		Credential: credentials.Credential{Provider: providers.Kimi, APIKey: "sk-system", BaseURL: baseURL, Model: "moonshot-v1-8k", IsValidated: true},
		System:     true,
	}}
}

// recorder captures every request body the provider stub receives.
type recorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *recorder) add(req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, string(raw))
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

func newService(t *testing.T, resolver Resolver, client *http.Client) (*Service, *[]time.Duration) {
	t.Helper()
	svc := New(resolver, llmclient.New(client, llmclient.Config{}), DefaultConfig())
	var delays []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return svc, &delays
}

func completion(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(raw)
}

func TestGenerate_Success(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(completion("It means hello.")))
	}))
	defer server.Close()

	svc, _ := newService(t, systemKimi(server.URL), server.Client())
	resp, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "What does hi mean?"})
	require.NoError(t, err)

	assert.Equal(t, "It means hello.", resp.Reply)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "KIMI", resp.Provider)
	assert.Equal(t, "moonshot-v1-8k", resp.Model)
	assert.True(t, resp.SystemCredential)

	var body core.ChatRequest
	require.NoError(t, json.Unmarshal([]byte(rec.all()[0]), &body))
	require.Len(t, body.Messages, 3)
	assert.Equal(t, core.RoleSystem, body.Messages[0].Role)
	assert.Equal(t, core.RoleAssistant, body.Messages[1].Role)
	assert.Equal(t, core.Message{Role: core.RoleUser, Content: "What does hi mean?"}, body.Messages[2])
	assert.False(t, body.Stream)
	assert.Equal(t, 1000, body.MaxTokens)
}

func TestGenerate_RetriesTransientThenSucceeds(t *testing.T) {
	rec := &recorder{}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(completion("third time lucky")))
	}))
	defer server.Close()

	svc, delays := newService(t, systemKimi(server.URL), server.Client())
	resp, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "third time lucky", resp.Reply)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	bodies := rec.all()
	require.Len(t, bodies, 3)
	assert.Equal(t, bodies[0], bodies[1], "retried request bodies must be identical")
	assert.Equal(t, bodies[0], bodies[2])
}

func TestGenerate_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc, delays := newService(t, systemKimi(server.URL), server.Client())
	_, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})

	assert.Equal(t, core.KindTransientServer, core.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *delays, 2)
}

func TestGenerate_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(completion("ok")))
	}))
	defer server.Close()

	svc, _ := newService(t, systemKimi(server.URL), server.Client())
	_, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_NonRetryableStatuses(t *testing.T) {
	tests := []struct {
		status int
		kind   core.ErrorKind
	}{
		{http.StatusBadRequest, core.KindInvalidRequest},
		{http.StatusUnauthorized, core.KindCredential},
		{http.StatusForbidden, core.KindCredential},
		{http.StatusNotFound, core.KindAPI},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			svc, delays := newService(t, systemKimi(server.URL), server.Client())
			_, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, *delays)
		})
	}
}

func TestGenerate_EmptyContentNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}))
	defer server.Close()

	svc, _ := newService(t, systemKimi(server.URL), server.Client())
	_, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})
	assert.ErrorIs(t, err, core.ErrEmptyContent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_ConfigurationErrorMakesNoCall(t *testing.T) {
	transport := &countingTransport{}
	svc := New(stubResolver{err: core.NewConfigurationError("system API key is not configured")}, transport, DefaultConfig())

	_, err := svc.Generate(context.Background(), Request{UserID: 1, Message: "hi"})
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	assert.Zero(t, transport.calls.Load())
}

func TestGenerate_OptionsAndCredentialModel(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(completion("ok")))
	}))
	defer server.Close()

	resolver := stubResolver{resolved: &credentials.Resolved{Credential: credentials.Credential{
		Provider: providers.DeepSeek, APIKey: "sk-user", BaseURL: server.URL, Model: "deepseek-chat", IsValidated: true,
	}}}
	svc, _ := newService(t, resolver, server.Client())

	temp := 3.0
	tokens := 20000
	resp, err := svc.Generate(context.Background(), Request{
		UserID:  2,
		Message: "hi",
		Options: &core.GenerationOptions{Temperature: &temp, MaxTokens: &tokens},
	})
	require.NoError(t, err)
	assert.False(t, resp.SystemCredential)

	var body core.ChatRequest
	require.NoError(t, json.Unmarshal([]byte(rec.all()[0]), &body))
	assert.Equal(t, "deepseek-chat", body.Model)
	assert.Equal(t, 1.0, body.Temperature)
	assert.Equal(t, 8192, body.MaxTokens)
}

func TestGenerate_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	svc := New(systemKimi(server.URL), llmclient.New(server.Client(), llmclient.Config{}), Config{
		MaxAttempts:    3,
		RetryBaseDelay: time.Hour,
		Defaults:       core.DefaultGenerationConfig("m"),
	})
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := svc.Generate(ctx, Request{UserID: 1, Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBackoffJitter(t *testing.T) {
	svc := New(nil, nil, Config{MaxAttempts: 3, RetryBaseDelay: time.Second, RetryJitter: 0.5})
	for range 20 {
		d := svc.backoff(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) Complete(context.Context, llmclient.Target, *core.ChatRequest) (*core.AIResponse, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected call")
}

func (c *countingTransport) Stream(context.Context, llmclient.Target, *core.ChatRequest, func(string)) error {
	c.calls.Add(1)
	return errors.New("unexpected call")
}

func TestBuildMessages(t *testing.T) {
	primed := BuildMessages("hello", nil)
	require.Len(t, primed, 3)
	assert.Equal(t, Primer(), primed[:2])
	assert.Equal(t, core.Message{Role: core.RoleUser, Content: "hello"}, primed[2])

	history := []core.Message{
		{Role: core.RoleSystem, Content: "s"},
		{Role: core.RoleUser, Content: "first"},
		{Role: core.RoleAssistant, Content: "answer"},
	}
	appended := BuildMessages("second", history)
	require.Len(t, appended, 4)
	assert.Equal(t, "second", appended[3].Content)
	assert.Len(t, history, 3, "history must not be mutated")

	endsWithUser := append(history, core.Message{Role: core.RoleUser, Content: "second"})
	same := BuildMessages("second", endsWithUser)
	assert.Equal(t, endsWithUser, same)
	assert.Equal(t, 1, strings.Count(mustJSON(t, same), `"second"`))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
