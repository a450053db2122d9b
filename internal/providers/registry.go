// Package providers describes the supported OpenAI-compatible chat providers:
// where each one lives, which path serves chat completions and how it authenticates.
package providers

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Name identifies a provider variant. Values match the stored credential field.
type Name string

const (
	OpenAI   Name = "OPENAI"
	Kimi     Name = "KIMI"
	DeepSeek Name = "DEEPSEEK"
	Ollama   Name = "OLLAMA"
)

// Spec is the fixed per-variant behavior of a provider.
type Spec interface {
	Name() Name
	// DefaultBaseURL is used when the credential has no custom base URL.
	DefaultBaseURL() string
	// Endpoint returns the chat completions URL for baseURL (or the default when empty).
	Endpoint(baseURL string) string
	// Authorize sets authentication headers on req for apiKey.
	Authorize(req *http.Request, apiKey string)
	// RequiresAPIKey reports whether a credential must carry a key.
	RequiresAPIKey() bool
	// Info returns display metadata for the provider.
	Info() Info
}

// Info is provider metadata exposed to the configuration UI.
type Info struct {
	Name           Name     `json:"name"`
	DisplayName    string   `json:"displayName"`
	DefaultBaseURL string   `json:"defaultBaseUrl"`
	DefaultModel   string   `json:"defaultModel"`
	Models         []string `json:"models"`
	RequiresAPIKey bool     `json:"requiresApiKey"`
}

var registry = map[Name]Spec{}

func register(s Spec) {
	registry[s.Name()] = s
}

// Lookup returns the Spec for name.
func Lookup(name Name) (Spec, error) {
	if s, ok := registry[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unsupported provider: %q", name)
}

// Parse normalizes s (case-insensitive) into a known provider Name.
func Parse(s string) (Name, error) {
	name := Name(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := registry[name]; !ok {
		return "", fmt.Errorf("unsupported provider: %q", s)
	}
	return name, nil
}

// All returns metadata for every registered provider, ordered by name.
func All() []Info {
	names := make([]Name, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	out := make([]Info, 0, len(names))
	for _, n := range names {
		out = append(out, registry[n].Info())
	}
	return out
}

// joinURL appends path to base (or fallback when base is empty), dropping a trailing slash on base.
func joinURL(base, fallback, path string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/") + path
}

// bearer is a provider that authenticates with "Authorization: Bearer <key>".
type bearer struct {
	info Info
	path string
}

func (b bearer) Name() Name             { return b.info.Name }
func (b bearer) DefaultBaseURL() string { return b.info.DefaultBaseURL }
func (b bearer) RequiresAPIKey() bool   { return true }
func (b bearer) Info() Info             { return b.info }

func (b bearer) Endpoint(baseURL string) string {
	return joinURL(baseURL, b.info.DefaultBaseURL, b.path)
}

func (b bearer) Authorize(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}
