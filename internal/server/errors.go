package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"englishcorner/internal/conversation"
	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
)

// handleError converts reply and storage errors to HTTP responses
func handleError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		err = core.NewNotFoundError("conversation not found")
	case errors.Is(err, credentials.ErrNotFound):
		err = core.NewNotFoundError("no API configuration found")
	}

	var chatErr *core.ChatError
	if errors.As(err, &chatErr) {
		status := chatErr.HTTPStatusCode()
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(c.Request().Context(), "request failed",
				"error_type", chatErr.Kind,
				"provider", chatErr.Provider,
				"error", err,
			)
		}
		return c.JSON(status, chatErr.ToJSON())
	}

	slog.ErrorContext(c.Request().Context(), "unexpected error", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

// publicMessage is the text shown to end users for err.
func publicMessage(err error) string {
	var chatErr *core.ChatError
	if errors.As(err, &chatErr) && chatErr.Message != "" {
		return chatErr.Message
	}
	return "AI service error, please try again later"
}
