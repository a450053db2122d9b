// Package probe checks whether a provider credential actually works by
// sending one short fixed prompt through the normal provider path.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/pkg/llmclient"
	"englishcorner/internal/providers"
)

const (
	probePrompt      = "你好，请用一句话自我介绍。"
	probeMaxTokens   = 50
	probeTemperature = 0.7
	previewRunes     = 50
)

// Result is the outcome of a probe. It is always returned, never an error.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Transport performs a single non-streaming provider call.
type Transport interface {
	Complete(ctx context.Context, t llmclient.Target, req *core.ChatRequest) (*core.AIResponse, error)
}

// CredentialStore gives the prober access to stored credentials.
type CredentialStore interface {
	Decrypted(ctx context.Context, userID int64) (*credentials.Credential, error)
	SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error
}

// Prober runs validation probes.
type Prober struct {
	transport Transport
	store     CredentialStore
	timeout   time.Duration
}

// New creates a Prober. A zero timeout means 30 seconds.
func New(transport Transport, store CredentialStore, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{transport: transport, store: store, timeout: timeout}
}

// Test probes cred once, without retries and regardless of its validated flag.
func (p *Prober) Test(ctx context.Context, cred credentials.Credential) Result {
	spec, err := providers.Lookup(cred.Provider)
	if err != nil {
		return Result{Message: "unsupported API provider", Details: fmt.Sprintf("provider %s is not supported", cred.Provider)}
	}
	if spec.RequiresAPIKey() && cred.APIKey == "" {
		return Result{Message: "API key is required", Details: fmt.Sprintf("provider %s requires an API key", cred.Provider)}
	}
	model := cred.Model
	if model == "" {
		model = spec.Info().DefaultModel
	}

	cfg := core.DefaultGenerationConfig(model)
	cfg.MaxTokens = probeMaxTokens
	cfg.Temperature = probeTemperature
	req := core.NewChatRequest(cfg, []core.Message{{Role: core.RoleUser, Content: probePrompt}}, false)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.transport.Complete(ctx, llmclient.Target{Provider: spec, BaseURL: cred.BaseURL, APIKey: cred.APIKey}, req)
	if err != nil {
		return failure(err)
	}
	content := strings.TrimSpace(resp.Reply)
	if content == "" {
		return failure(core.NewResponseFormatError(string(cred.Provider), core.ErrEmptyContent))
	}
	return Result{
		Success: true,
		Message: "API configuration validated",
		Details: "model response: " + preview(content) + "...",
	}
}

// TestUserConfig reports whether the user's stored credential is validated
// and currently answers the probe. Any failure, including a missing
// credential, yields false.
func (p *Prober) TestUserConfig(ctx context.Context, userID int64) bool {
	cred, err := p.store.Decrypted(ctx, userID)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			slog.WarnContext(ctx, "failed to load credential for probe", "user_id", userID, "error", err)
		}
		return false
	}
	if !cred.IsValidated {
		return false
	}
	return p.Test(ctx, *cred).Success
}

// Validate tests the user's stored credential and records the outcome on
// it. The outcome is only recorded if the credential was not saved again
// while the test ran. It returns credentials.ErrNotFound when nothing is
// stored; other errors come from the store.
func (p *Prober) Validate(ctx context.Context, userID int64) (Result, error) {
	cred, err := p.store.Decrypted(ctx, userID)
	if err != nil {
		return Result{Message: "no API configuration found"}, err
	}

	res := p.Test(ctx, *cred)
	if res.Success != cred.IsValidated {
		err := p.store.SetValidated(ctx, userID, cred.UpdatedAt, res.Success)
		switch {
		case errors.Is(err, credentials.ErrChanged), errors.Is(err, credentials.ErrNotFound):
			slog.InfoContext(ctx, "credential changed during validation, result discarded", "user_id", userID)
			return Result{
				Message: "API configuration changed during validation",
				Details: "the saved configuration was not the one tested, please validate again",
			}, nil
		case err != nil:
			return res, err
		}
	}
	slog.InfoContext(ctx, "credential probe finished",
		"user_id", userID,
		"provider", cred.Provider,
		"model", cred.Model,
		"success", res.Success,
	)
	return res, nil
}

func failure(err error) Result {
	var ce *core.ChatError
	if !errors.As(err, &ce) {
		return Result{Message: "an error occurred during validation", Details: err.Error()}
	}

	switch {
	case errors.Is(err, core.ErrEmptyContent):
		return Result{Message: "API returned empty content", Details: "model returned an empty response"}
	case ce.Kind == core.KindResponseFormat:
		return Result{Message: "API response format is invalid", Details: "response does not contain the expected structure"}
	case ce.StatusCode != 0:
		details := ce.Detail
		if details == "" {
			details = fmt.Sprintf("HTTP %d", ce.StatusCode)
		}
		return Result{Message: "API connection failed", Details: details}
	case errors.Is(err, syscall.ECONNREFUSED):
		return Result{Message: "connection refused", Details: "unable to connect to the server, check that the URL is correct"}
	case ce.Kind == core.KindTransientServer:
		return Result{Message: "network connection failed", Details: "unable to reach the API server, check the network settings"}
	default:
		return Result{Message: ce.Message, Details: ce.Detail}
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes])
}
