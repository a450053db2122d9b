// Package credentials stores per-user provider credentials (API keys
// encrypted at rest) and decides which credential serves a request.
package credentials

import (
	"errors"
	"log/slog"
	"time"

	"englishcorner/internal/providers"
)

// ErrNotFound is returned when a user has no stored credential.
var ErrNotFound = errors.New("credential not found")

// ErrChanged means the record was saved again after the caller read it.
var ErrChanged = errors.New("credential changed since it was read")

// Record is a stored credential. APIKey holds the encrypted form.
type Record struct {
	ID          string         `json:"id" bson:"id"`
	UserID      int64          `json:"userId" bson:"user_id"`
	Provider    providers.Name `json:"provider" bson:"provider"`
	APIKey      string         `json:"-" bson:"api_key"`
	BaseURL     string         `json:"baseUrl,omitempty" bson:"base_url,omitempty"`
	Model       string         `json:"model" bson:"model"`
	IsValidated bool           `json:"isValidated" bson:"is_validated"`
	CreatedAt   time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updated_at"`
}

// Credential is a usable (decrypted) credential.
type Credential struct {
	Provider    providers.Name
	APIKey      string
	BaseURL     string
	Model       string
	IsValidated bool
	// UpdatedAt identifies the stored version this credential was read from.
	UpdatedAt time.Time
}

// LogValue keeps the key out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", string(c.Provider)),
		slog.String("model", c.Model),
		slog.String("base_url", c.BaseURL),
	)
}

// Input is a create-or-update request for a user's credential.
type Input struct {
	Provider providers.Name `json:"provider"`
	APIKey   string         `json:"apiKey"`
	BaseURL  string         `json:"baseUrl"`
	Model    string         `json:"model"`
}
