//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// API endpoints
const (
	chatPath           = "/api/chat"
	chatStreamPath     = "/api/chat/stream"
	conversationsPath  = "/api/chat/conversations"
	apiConfigPath      = "/api/user/api-config"
	ollamaModelsPath   = "/api/user/api-config/ollama-models"
	providersPath      = "/api/providers"
	healthPath         = "/health"
	upstreamChatPath   = "/v1/chat/completions"
	upstreamOllamaTags = "/api/tags"
)

var lastUserID atomic.Int64

func newUserID() int64 {
	return lastUserID.Add(1)
}

// do sends a JSON request as userID. A nil payload sends no body.
func do(t *testing.T, method, path string, userID int64, payload any) *http.Response {
	t.Helper()
	resp, err := doNoT(method, path, userID, payload)
	require.NoError(t, err)
	return resp
}

// doNoT is do without testing.T, for use from goroutines where calling
// t.FailNow / require is unsafe.
func doNoT(method, path string, userID int64, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	return http.DefaultClient.Do(req)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer closeBody(resp)
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// readEvents reads every server-sent event of a stream response.
func readEvents(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer closeBody(resp)

	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

type chatResponse struct {
	Success      bool   `json:"success"`
	Reply        string `json:"reply"`
	Provider     string `json:"provider"`
	Conversation struct {
		ID       string `json:"id"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	} `json:"conversation"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// lastUpstreamMessages decodes the messages of the most recent chat call.
func lastUpstreamMessages(t *testing.T) []map[string]string {
	t.Helper()
	reqs := mockLLM.Requests(upstreamChatPath)
	require.NotEmpty(t, reqs)
	var body struct {
		Messages []map[string]string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(reqs[len(reqs)-1].Body, &body))
	return body.Messages
}
