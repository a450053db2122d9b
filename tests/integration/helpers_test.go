//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// API endpoints
const (
	chatPath          = "/api/chat"
	chatStreamPath    = "/api/chat/stream"
	conversationsPath = "/api/chat/conversations"
	apiConfigPath     = "/api/user/api-config"
	usagePath         = "/api/user/usage"
)

// sendJSONRequest sends a JSON request as userID and returns the response.
func sendJSONRequest(t *testing.T, method, url string, userID int64, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err, "failed to marshal request payload")
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err, "failed to create request")

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "failed to send request")
	return resp
}

// decodeBody decodes and closes the response body.
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
	Conversation struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"conversation"`
}
