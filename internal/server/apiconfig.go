package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/providers"
)

// GetAPIConfig handles GET /api/user/api-config. It returns null when the
// user has stored nothing. The key itself is never returned.
func (h *Handler) GetAPIConfig(c echo.Context) error {
	rec, err := h.deps.Credentials.Get(c.Request().Context(), userID(c))
	if errors.Is(err, credentials.ErrNotFound) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// SaveAPIConfig handles POST /api/user/api-config
func (h *Handler) SaveAPIConfig(c echo.Context) error {
	var in credentials.Input
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	rec, err := h.deps.Credentials.Save(c.Request().Context(), userID(c), in)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// DeleteAPIConfig handles DELETE /api/user/api-config
func (h *Handler) DeleteAPIConfig(c echo.Context) error {
	if err := h.deps.Credentials.Delete(c.Request().Context(), userID(c)); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// TestAPIConfig handles POST /api/user/api-config/test. It probes the
// submitted settings without saving them. An omitted key falls back to the
// stored one when the provider matches, so a saved key can be re-tested
// without being sent again.
func (h *Handler) TestAPIConfig(c echo.Context) error {
	var in credentials.Input
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	ctx := c.Request().Context()

	name, err := providers.Parse(string(in.Provider))
	if err != nil || strings.TrimSpace(in.Model) == "" {
		return handleError(c, core.NewInvalidRequestError("provider and model are required", err))
	}
	spec, _ := providers.Lookup(name)

	cred := credentials.Credential{
		Provider: name,
		APIKey:   strings.TrimSpace(in.APIKey),
		BaseURL:  strings.TrimSpace(in.BaseURL),
		Model:    strings.TrimSpace(in.Model),
	}
	if cred.APIKey == "" && spec.RequiresAPIKey() {
		stored, err := h.deps.Credentials.Decrypted(ctx, userID(c))
		switch {
		case err == nil && stored.Provider == name:
			cred.APIKey = stored.APIKey
		case err != nil && !errors.Is(err, credentials.ErrNotFound):
			slog.WarnContext(ctx, "failed to load stored key for test", "error", err)
		}
		if cred.APIKey == "" {
			return handleError(c, core.NewInvalidRequestError("API key is required", nil))
		}
	}

	return c.JSON(http.StatusOK, h.deps.Prober.Test(ctx, cred))
}

// ValidateAPIConfig handles POST /api/user/api-config/validate. It probes
// the stored credential and records the outcome on it.
func (h *Handler) ValidateAPIConfig(c echo.Context) error {
	res, err := h.deps.Prober.Validate(c.Request().Context(), userID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// OllamaModels handles GET /api/user/api-config/ollama-models?baseUrl=...
// An unreachable server yields an empty list, not an error status.
func (h *Handler) OllamaModels(c echo.Context) error {
	baseURL := strings.TrimSpace(c.QueryParam("baseUrl"))
	if baseURL == "" {
		spec, _ := providers.Lookup(providers.Ollama)
		baseURL = spec.DefaultBaseURL()
	}

	models, err := h.deps.Models.Models(c.Request().Context(), baseURL)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "failed to list ollama models", "base_url", baseURL, "error", err)
		return c.JSON(http.StatusOK, map[string]any{
			"models": []string{},
			"error":  "could not reach the Ollama server",
		})
	}
	if models == nil {
		models = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}
