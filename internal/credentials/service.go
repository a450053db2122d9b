package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"englishcorner/internal/core"
	"englishcorner/internal/providers"
)

// ErrUndecryptable means a stored key could not be decrypted, usually after
// the encryption passphrase changed.
var ErrUndecryptable = errors.New("stored API key cannot be decrypted")

// Service manages user credentials on top of a Store, encrypting keys on the
// way in and decrypting them on the way out.
type Service struct {
	store  Store
	cipher *Cipher
	now    func() time.Time
}

func NewService(store Store, cipher *Cipher) *Service {
	return &Service{store: store, cipher: cipher, now: time.Now}
}

// Get returns the stored record (key still encrypted) or ErrNotFound.
func (s *Service) Get(ctx context.Context, userID int64) (*Record, error) {
	return s.store.Get(ctx, userID)
}

// Decrypted returns the user's credential with a plaintext key.
func (s *Service) Decrypted(ctx context.Context, userID int64) (*Credential, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	key, err := s.cipher.Decrypt(rec.APIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	return &Credential{
		Provider:    rec.Provider,
		APIKey:      key,
		BaseURL:     rec.BaseURL,
		Model:       rec.Model,
		IsValidated: rec.IsValidated,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

// Save creates or replaces the user's credential. Every save clears the
// validated flag. An empty key on update keeps the stored one.
func (s *Service) Save(ctx context.Context, userID int64, in Input) (*Record, error) {
	name, err := providers.Parse(string(in.Provider))
	if err != nil {
		return nil, core.NewInvalidRequestError("unsupported API provider", err)
	}
	spec, _ := providers.Lookup(name)

	model := strings.TrimSpace(in.Model)
	if model == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}
	baseURL := strings.TrimSpace(in.BaseURL)
	if baseURL != "" {
		if err := validateBaseURL(baseURL); err != nil {
			return nil, core.NewInvalidRequestError("base URL is invalid", err)
		}
	}

	existing, err := s.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    name,
		BaseURL:     baseURL,
		Model:       model,
		IsValidated: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}

	key := strings.TrimSpace(in.APIKey)
	switch {
	case key != "":
		if rec.APIKey, err = s.cipher.Encrypt(key); err != nil {
			return nil, fmt.Errorf("failed to encrypt API key: %w", err)
		}
	case existing != nil:
		rec.APIKey = existing.APIKey
	}
	if rec.APIKey == "" && spec.RequiresAPIKey() {
		return nil, core.NewInvalidRequestError("API key is required for "+string(name), nil)
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the user's credential or returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, userID int64) error {
	return s.store.Delete(ctx, userID)
}

// SetValidated records the outcome of a test of the credential read at
// version. It returns ErrChanged when the credential was saved since.
func (s *Service) SetValidated(ctx context.Context, userID int64, version time.Time, validated bool) error {
	return s.store.SetValidated(ctx, userID, version, validated)
}

func validateBaseURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
