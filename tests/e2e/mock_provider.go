//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer simulates an OpenAI-compatible provider and an Ollama
// tags endpoint.
type MockLLMServer struct {
	server        *httptest.Server
	mu            sync.Mutex
	requests      []RecordedRequest
	failures      []int
	responseDelay time.Duration
	models        []string
}

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// chatBody is the part of a chat request the mock looks at.
type chatBody struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// NewMockLLMServer creates a new mock provider server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		var fail int
		if len(m.failures) > 0 && r.URL.Path != "/api/tags" {
			fail, m.failures = m.failures[0], m.failures[1:]
		}
		delay := m.responseDelay
		models := m.models
		m.mu.Unlock()

		if fail != 0 {
			w.WriteHeader(fail)
			_, _ = fmt.Fprintf(w, `{"error": {"message": "mock failure %d", "type": "api_error"}}`, fail)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		switch r.URL.Path {
		case "/v1/chat/completions":
			m.handleChatCompletion(w, body)
		case "/api/tags":
			handleTags(w, models)
		default:
			http.NotFound(w, r)
		}
	}))
	return m
}

// FailNext makes the next chat requests fail with the given statuses, in order.
func (m *MockLLMServer) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// SetModels sets the models reported by /api/tags.
func (m *MockLLMServer) SetModels(models ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = models
}

// SetDelay delays every successful response.
func (m *MockLLMServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseDelay = d
}

// Reset clears recorded requests and pending failures.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failures = nil
	m.responseDelay = 0
}

// Requests returns the recorded requests to path.
func (m *MockLLMServer) Requests(path string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// URL returns the server URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

func (m *MockLLMServer) handleChatCompletion(w http.ResponseWriter, body []byte) {
	var req chatBody
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid JSON"}}`))
		return
	}

	content := generateMockResponse(req)
	if req.Stream {
		handleStreamingResponse(w, content)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func handleStreamingResponse(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	for _, chunk := range splitIntoChunks(content, 4) {
		data, _ := json.Marshal(map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": chunk}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func handleTags(w http.ResponseWriter, models []string) {
	type model struct {
		Name string `json:"name"`
	}
	out := make([]model, 0, len(models))
	for _, name := range models {
		out = append(out, model{Name: name})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"models": out})
}

// generateMockResponse echoes the last user message so tests can tell turns apart.
func generateMockResponse(req chatBody) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return "Tutor reply to: " + req.Messages[i].Content
		}
	}
	return "Hello from the tutor."
}

func splitIntoChunks(s string, n int) []string {
	words := strings.SplitAfter(s, " ")
	if len(words) <= n {
		return words
	}
	size := (len(words) + n - 1) / n
	var chunks []string
	for i := 0; i < len(words); i += size {
		chunks = append(chunks, strings.Join(words[i:min(i+size, len(words))], ""))
	}
	return chunks
}
