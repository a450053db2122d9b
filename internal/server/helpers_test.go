package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"englishcorner/internal/conversation"
	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/probe"
	"englishcorner/internal/reply"
	"englishcorner/internal/usage"
)

type fakeReplier struct {
	mu      sync.Mutex
	resp    *core.AIResponse
	err     error
	events  []core.StreamEvent
	lastReq reply.Request
}

func (f *fakeReplier) Generate(_ context.Context, req reply.Request) (*core.AIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeReplier) Stream(_ context.Context, req reply.Request) <-chan core.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	ch := make(chan core.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeProber struct {
	result   probe.Result
	err      error
	lastCred credentials.Credential
}

func (f *fakeProber) Test(_ context.Context, cred credentials.Credential) probe.Result {
	f.lastCred = cred
	return f.result
}

func (f *fakeProber) Validate(context.Context, int64) (probe.Result, error) {
	return f.result, f.err
}

type fakeLister struct {
	models []string
	err    error
}

func (f *fakeLister) Models(context.Context, string) ([]string, error) {
	return f.models, f.err
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []*usage.Entry
}

func (r *captureRecorder) Write(e *usage.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *captureRecorder) Close() error { return nil }

func (r *captureRecorder) all() []*usage.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*usage.Entry(nil), r.entries...)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testEnv struct {
	srv     *Server
	replies *fakeReplier
	prober  *fakeProber
	models  *fakeLister
	usage   *captureRecorder
	convs   *conversation.Service
	creds   *credentials.Service
	deps    Deps
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	cipher, err := credentials.NewCipher("test-passphrase", "test-salt")
	require.NoError(t, err)

	env := &testEnv{
		replies: &fakeReplier{},
		prober:  &fakeProber{},
		models:  &fakeLister{},
		usage:   &captureRecorder{},
		convs:   conversation.NewService(conversation.NewMemoryStore()),
		creds:   credentials.NewService(credentials.NewMemoryStore(), cipher),
	}
	env.deps = Deps{
		Replies:       env.replies,
		Conversations: env.convs,
		Credentials:   env.creds,
		Prober:        env.prober,
		Models:        env.models,
		Usage:         env.usage,
		UsageReader:   usage.NewMemoryStore(),
		Storage:       fakePinger{},
	}
	env.srv = New(env.deps, cfg)
	return env
}

// do sends a request as user 42 unless the header is overridden.
func (e *testEnv) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(UserIDHeader, "42")
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] == "" {
			req.Header.Del(headers[i])
			continue
		}
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Type
}

// sseEvents parses "data: {...}" lines of a stream body.
func sseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

var errBoom = errors.New("boom")

var _ http.Handler = (*Server)(nil)
