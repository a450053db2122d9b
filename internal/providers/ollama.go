package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// ollama serves the OpenAI-compatible API under /v1 of the server root and
// needs no authentication.
type ollama struct{}

func init() {
	register(ollama{})
}

func (ollama) Name() Name             { return Ollama }
func (ollama) DefaultBaseURL() string { return ollamaDefaultBaseURL }
func (ollama) RequiresAPIKey() bool   { return false }

func (ollama) Endpoint(baseURL string) string {
	return joinURL(baseURL, ollamaDefaultBaseURL, "/v1/chat/completions")
}

// Authorize is a no-op: local Ollama servers never receive an Authorization header.
func (ollama) Authorize(*http.Request, string) {}

func (ollama) Info() Info {
	return Info{
		Name:           Ollama,
		DisplayName:    "Ollama (local)",
		DefaultBaseURL: ollamaDefaultBaseURL,
		DefaultModel:   "llama3.2",
		Models:         []string{"llama3.2", "qwen2.5", "mistral"},
		RequiresAPIKey: false,
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListOllamaModels returns the sorted names of models installed on the Ollama
// server at baseURL (or the local default when empty).
func ListOllamaModels(ctx context.Context, client *http.Client, baseURL string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(baseURL, ollamaDefaultBaseURL, "/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ollama: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	slices.Sort(names)
	return names, nil
}
