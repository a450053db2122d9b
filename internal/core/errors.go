// Package core provides the shared types and error model for reply generation.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrorKind identifies the category of a ChatError.
type ErrorKind string

const (
	// KindConfiguration means no usable credential exists (system key missing).
	KindConfiguration ErrorKind = "configuration_error"
	// KindCredential means the provider rejected the key (401/403).
	KindCredential ErrorKind = "credential_error"
	// KindRateLimit means the provider throttled the request (429).
	KindRateLimit ErrorKind = "rate_limit_error"
	// KindTransientServer covers 500/503 responses and network failures.
	KindTransientServer ErrorKind = "transient_server_error"
	// KindResponseFormat means a 2xx body lacked the expected structure or content.
	KindResponseFormat ErrorKind = "response_format_error"
	// KindStream means a stream broke after content was already forwarded.
	KindStream ErrorKind = "stream_error"
	// KindInvalidRequest means the provider rejected the request shape (400) or input failed validation.
	KindInvalidRequest ErrorKind = "invalid_request_error"
	// KindAPI is any other non-success provider status.
	KindAPI ErrorKind = "api_error"
	// KindNotFound means a requested record does not exist.
	KindNotFound ErrorKind = "not_found_error"
)

var (
	// ErrMalformedResponse marks a success response missing choices[0].message.
	ErrMalformedResponse = errors.New("response does not contain the expected structure")
	// ErrEmptyContent marks a success response whose reply text is empty.
	ErrEmptyContent = errors.New("model returned empty content")
)

// ChatError is the error type surfaced by the reply pipeline.
// Message is safe to show to end users; Detail carries the provider's own text.
type ChatError struct {
	Kind       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Detail     string    `json:"-"`
	Err        error     `json:"-"`
}

func (e *ChatError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the orchestrator may try the call again.
func (e *ChatError) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransientServer
}

// HTTPStatusCode maps the error onto the status returned to our own clients.
// Provider failures surface as 502 whatever status the provider used.
func (e *ChatError) HTTPStatusCode() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindCredential, KindTransientServer, KindResponseFormat, KindStream, KindAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the response envelope used by the HTTP layer.
func (e *ChatError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Kind,
			"message": e.Message,
		},
	}
}

// IsRetryable reports whether err is a ChatError the orchestrator may retry.
func IsRetryable(err error) bool {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// KindOf returns the ChatError kind inside err, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func NewConfigurationError(message string) *ChatError {
	return &ChatError{Kind: KindConfiguration, Message: message}
}

func NewInvalidRequestError(message string, err error) *ChatError {
	return &ChatError{Kind: KindInvalidRequest, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

func NewNotFoundError(message string) *ChatError {
	return &ChatError{Kind: KindNotFound, Message: message, StatusCode: http.StatusNotFound}
}

// NewNetworkError wraps a transport failure (DNS, refused, timeout) as a transient error.
func NewNetworkError(provider string, err error) *ChatError {
	return &ChatError{
		Kind:     KindTransientServer,
		Message:  "AI service is temporarily unavailable, please try again later",
		Provider: provider,
		Err:      err,
	}
}

// NewResponseFormatError wraps one of ErrMalformedResponse or ErrEmptyContent.
func NewResponseFormatError(provider string, cause error) *ChatError {
	msg := "AI response format is invalid"
	if errors.Is(cause, ErrEmptyContent) {
		msg = "AI response content is empty"
	}
	return &ChatError{Kind: KindResponseFormat, Message: msg, Provider: provider, Err: cause}
}

// NewStreamError reports a stream that failed after content was forwarded to the caller.
func NewStreamError(provider string, err error) *ChatError {
	return &ChatError{
		Kind:     KindStream,
		Message:  "the reply stream was interrupted",
		Provider: provider,
		Err:      err,
	}
}

// ClassifyStatus converts a non-success provider response into a ChatError.
func ClassifyStatus(provider string, statusCode int, body []byte) *ChatError {
	ce := &ChatError{
		StatusCode: statusCode,
		Provider:   provider,
		Detail:     providerMessage(body),
	}
	switch statusCode {
	case http.StatusBadRequest:
		ce.Kind = KindInvalidRequest
		ce.Message = "the request was rejected, please check the input"
	case http.StatusUnauthorized:
		ce.Kind = KindCredential
		ce.Message = "API key is invalid or expired, please check the configuration"
	case http.StatusForbidden:
		ce.Kind = KindCredential
		ce.Message = "API key does not have sufficient permissions"
	case http.StatusTooManyRequests:
		ce.Kind = KindRateLimit
		ce.Message = "requests are too frequent, please try again later"
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		ce.Kind = KindTransientServer
		ce.Message = "AI service is temporarily unavailable, please try again later"
	default:
		ce.Kind = KindAPI
		ce.Message = fmt.Sprintf("API error: %d %s", statusCode, http.StatusText(statusCode))
	}
	return ce
}

// maxDetailBytes caps a raw provider body kept as error detail.
const maxDetailBytes = 512

// providerMessage extracts error.message (or message) from a provider error body,
// falling back to the trimmed raw body.
func providerMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
