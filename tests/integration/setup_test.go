//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"englishcorner/config"
	"englishcorner/internal/app"
	"englishcorner/internal/storage"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// UsageEnabled enables usage tracking
	UsageEnabled bool

	// MasterKey sets the authentication master key (empty = open)
	MasterKey string

	// WithoutSystemKey leaves the operator fallback credential unset.
	WithoutSystemKey bool
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// MockLLM is the mock provider server
	MockLLM *MockLLMServer

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string

	cancelFunc context.CancelFunc
}

var nextUserID atomic.Int64

// newUserID returns an ID no other test in the run uses, so tests can share
// one database without cleaning it.
func newUserID() int64 {
	return time.Now().UnixNano()/1000 + nextUserID.Add(1)
}

// SetupTestServer creates a test server with the specified configuration.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(dbs.ctx)

	mockLLM := NewMockLLMServer()

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	appCfg := buildAppConfig(t, cfg, mockLLM.URL(), port)

	application, err := app.New(ctx, appCfg)
	require.NoError(t, err, "failed to create app")

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		_ = application.Start(fmt.Sprintf("127.0.0.1:%d", port))
	}()

	err = waitForServer(serverURL + "/health")
	require.NoError(t, err, "server failed to become healthy")

	fixture := &TestServerFixture{
		ServerURL:  serverURL,
		App:        application,
		MockLLM:    mockLLM,
		DBType:     cfg.DBType,
		cancelFunc: cancel,
	}

	switch cfg.DBType {
	case storage.TypePostgreSQL:
		fixture.PgPool = dbs.pgPool
	case storage.TypeMongoDB:
		fixture.MongoDb = dbs.mongoDB
	}

	t.Cleanup(func() { fixture.Shutdown(t) })
	return fixture
}

// FlushAndClose flushes pending usage entries and closes the app.
// Call this before asserting on usage rows.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		err := f.App.Shutdown(ctx)
		require.NoError(t, err, "failed to shutdown app")
	}
}

// Shutdown gracefully shuts down the test server.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		_ = f.App.Shutdown(ctx)
	}
	if f.MockLLM != nil {
		f.MockLLM.Close()
	}
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
}

// buildAppConfig points the operator KIMI credential at the mock server.
func buildAppConfig(t *testing.T, cfg TestServerConfig, mockLLMURL string, port int) *config.Config {
	t.Helper()

	appCfg := config.Default()
	appCfg.Server.Port = fmt.Sprintf("%d", port)
	appCfg.Server.MasterKey = cfg.MasterKey
	appCfg.Metrics.Enabled = false
	appCfg.Usage.Enabled = cfg.UsageEnabled
	appCfg.Usage.FlushInterval = time.Second
	appCfg.Usage.RetentionDays = 0
	appCfg.Security.EncryptionKey = "integration-test-key"
	appCfg.Reply.RetryBaseDelay = 10 * time.Millisecond
	if !cfg.WithoutSystemKey {
		appCfg.System.APIKey = "sk-system-test"
		appCfg.System.BaseURL = mockLLMURL + "/v1"
	}

	switch cfg.DBType {
	case storage.TypePostgreSQL:
		appCfg.Storage = storage.Config{
			Type:       storage.TypePostgreSQL,
			PostgreSQL: storage.PostgreSQLConfig{URL: dbs.pgURL, MaxConns: 5},
		}
	case storage.TypeMongoDB:
		appCfg.Storage = storage.Config{
			Type:    storage.TypeMongoDB,
			MongoDB: storage.MongoDBConfig{URL: dbs.mongoURL, Database: testDatabase},
		}
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}
	return appCfg
}

// waitForServer waits for the server to become healthy.
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 50; i++ {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become healthy within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// MockLLMServer answers OpenAI-compatible chat completions and counts calls.
type MockLLMServer struct {
	server *httptest.Server
	calls  atomic.Int32
}

// NewMockLLMServer creates a new mock provider server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-system-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid Authentication"}}`))
			return
		}
		m.calls.Add(1)

		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			handleChatCompletionStream(w)
			return
		}
		handleChatCompletion(w)
	}))
	return m
}

// URL returns the server URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Calls returns how many authorized completions were served.
func (m *MockLLMServer) Calls() int {
	return int(m.calls.Load())
}

// Close shuts down the server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

func handleChatCompletion(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{
		"id": "chatcmpl-test123",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "moonshot-v1-8k",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "\"Fewer\" is for countable nouns."},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
	}`))
}

// streamChunks concatenate to streamReply.
var streamChunks = []string{"Use", " \"fewer\"", " with", " countable", " nouns."}

const streamReply = "Use \"fewer\" with countable nouns."

func handleChatCompletionStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	for _, chunk := range streamChunks {
		data, _ := json.Marshal(map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": chunk}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
