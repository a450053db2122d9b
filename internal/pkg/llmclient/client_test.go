package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"englishcorner/internal/core"
	"englishcorner/internal/providers"
)

func target(t *testing.T, name providers.Name, baseURL, key string) Target {
	t.Helper()
	spec, err := providers.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", name, err)
	}
	return Target{Provider: spec, BaseURL: baseURL, APIKey: key}
}

func testRequest() *core.ChatRequest {
	return core.NewChatRequest(core.DefaultGenerationConfig("moonshot-v1-8k"),
		[]core.Message{{Role: core.RoleUser, Content: "hello"}}, false)
}

func TestClient_Complete_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer server.Close()

	client := New(server.Client(), Config{})
	resp, err := client.Complete(context.Background(), target(t, providers.Kimi, server.URL+"/v1", "sk-kimi"), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Reply != "Hi there" {
		t.Errorf("Reply = %q", resp.Reply)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-kimi" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["stream"] != false || gotBody["max_tokens"] != float64(1000) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_Complete_OllamaSendsNoAuthorization(t *testing.T) {
	var sawAuth atomic.Bool
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth0 := r.Header["Authorization"]
		sawAuth.Store(sawAuth0)
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := New(server.Client(), Config{})
	if _, err := client.Complete(context.Background(), target(t, providers.Ollama, server.URL, ""), testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAuth.Load() {
		t.Error("Ollama request carried an Authorization header")
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClient_Complete_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind core.ErrorKind
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, core.KindInvalidRequest},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Invalid Authentication"}}`, core.KindCredential},
		{"forbidden", http.StatusForbidden, `{}`, core.KindCredential},
		{"rate limited", http.StatusTooManyRequests, `{}`, core.KindRateLimit},
		{"server error", http.StatusInternalServerError, `{}`, core.KindTransientServer},
		{"unavailable", http.StatusServiceUnavailable, `{}`, core.KindTransientServer},
		{"teapot", http.StatusTeapot, `short and stout`, core.KindAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(server.Client(), Config{})
			_, err := client.Complete(context.Background(), target(t, providers.OpenAI, server.URL, "sk"), testRequest())

			var ce *core.ChatError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *core.ChatError, got %T: %v", err, err)
			}
			if ce.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ce.Kind, tt.wantKind)
			}
			if ce.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", ce.StatusCode, tt.status)
			}
		})
	}
}

func TestClient_Complete_ResponseFormat(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"not json", `<html>`, core.ErrMalformedResponse},
		{"missing choices", `{"id":"x"}`, core.ErrMalformedResponse},
		{"choices not array", `{"choices":"nope"}`, core.ErrMalformedResponse},
		{"empty choices", `{"choices":[]}`, core.ErrMalformedResponse},
		{"missing message", `{"choices":[{"index":0}]}`, core.ErrMalformedResponse},
		{"empty content", `{"choices":[{"message":{"content":""}}]}`, core.ErrEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(server.Client(), Config{})
			_, err := client.Complete(context.Background(), target(t, providers.DeepSeek, server.URL, "sk"), testRequest())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if core.KindOf(err) != core.KindResponseFormat {
				t.Errorf("Kind = %v", core.KindOf(err))
			}
		})
	}
}

func TestClient_Complete_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(nil, Config{})
	_, err := client.Complete(context.Background(), target(t, providers.OpenAI, url, "sk"), testRequest())
	if core.KindOf(err) != core.KindTransientServer {
		t.Fatalf("Kind = %v, err = %v", core.KindOf(err), err)
	}
	if !core.IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.Client(), Config{
		CircuitBreaker: &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute},
	})
	tgt := target(t, providers.OpenAI, server.URL, "sk")

	for range 2 {
		_, _ = client.Complete(context.Background(), tgt, testRequest())
	}
	_, err := client.Complete(context.Background(), tgt, testRequest())

	if attempts.Load() != 2 {
		t.Errorf("server saw %d requests, want 2 before the circuit opened", attempts.Load())
	}
	var ce *core.ChatError
	if !errors.As(err, &ce) || ce.Kind != core.KindTransientServer {
		t.Fatalf("expected transient error from open circuit, got %v", err)
	}
}

func TestClient_CircuitBreakerIgnoresCredentialErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(server.Client(), Config{
		CircuitBreaker: &CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute},
	})
	tgt := target(t, providers.OpenAI, server.URL, "bad")
	for range 3 {
		_, _ = client.Complete(context.Background(), tgt, testRequest())
	}
	if attempts.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", attempts.Load())
	}
}

func TestClient_Hooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	var started, ended atomic.Int32
	var endInfo ResponseInfo
	client := New(server.Client(), Config{Hooks: Hooks{
		OnRequestStart: func(ctx context.Context, info RequestInfo) context.Context {
			started.Add(1)
			return ctx
		},
		OnRequestEnd: func(ctx context.Context, info ResponseInfo) {
			ended.Add(1)
			endInfo = info
		},
	}})

	_, err := client.Complete(context.Background(), target(t, providers.Kimi, server.URL, "sk"), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.Load() != 1 || ended.Load() != 1 {
		t.Errorf("hooks called start=%d end=%d", started.Load(), ended.Load())
	}
	if endInfo.Provider != "KIMI" || endInfo.StatusCode != http.StatusOK || endInfo.Stream {
		t.Errorf("endInfo = %+v", endInfo)
	}
}
