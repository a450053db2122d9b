package credentials

import (
	"context"
	"errors"
	"log/slog"

	"englishcorner/internal/core"
	"englishcorner/internal/providers"
)

// Source yields a user's decrypted credential, or ErrNotFound.
type Source interface {
	Decrypted(ctx context.Context, userID int64) (*Credential, error)
}

// SystemCredential is the operator-configured KIMI fallback.
type SystemCredential struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Resolved is the credential chosen for a request.
type Resolved struct {
	Credential
	// System is true when the operator's fallback was chosen.
	System bool
}

// Resolver picks the credential for a user's request.
type Resolver struct {
	source Source
	system SystemCredential
}

func NewResolver(source Source, system SystemCredential) *Resolver {
	if system.BaseURL == "" {
		system.BaseURL = providers.KimiDefaultBaseURL
	}
	if system.Model == "" {
		system.Model = providers.KimiDefaultModel
	}
	return &Resolver{source: source, system: system}
}

// Resolve returns the user's credential when it has been validated (OLLAMA
// needs no validation); otherwise the system credential. It fails with a
// configuration error when neither is usable. It never writes.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*Resolved, error) {
	cred, err := r.source.Decrypted(ctx, userID)
	switch {
	case err == nil:
		if usable(cred) {
			return &Resolved{Credential: *cred}, nil
		}
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrUndecryptable):
		slog.WarnContext(ctx, "ignoring undecryptable user credential", "user_id", userID, "error", err)
	default:
		return nil, err
	}

	if r.system.APIKey == "" {
		return nil, core.NewConfigurationError("system API key is not configured, please contact the administrator")
	}
	return &Resolved{
		Credential: Credential{
			Provider:    providers.Kimi,
			APIKey:      r.system.APIKey,
			BaseURL:     r.system.BaseURL,
			Model:       r.system.Model,
			IsValidated: true,
		},
		System: true,
	}, nil
}

func usable(c *Credential) bool {
	if c.Provider == providers.Ollama {
		return true
	}
	return c.IsValidated && c.APIKey != ""
}
