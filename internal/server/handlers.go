package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"englishcorner/internal/conversation"
	"englishcorner/internal/core"
	"englishcorner/internal/credentials"
	"englishcorner/internal/probe"
	"englishcorner/internal/providers"
	"englishcorner/internal/reply"
	"englishcorner/internal/usage"
)

const (
	defaultUsageDays = 30
	maxUsageDays     = 365
)

// Replier generates tutor replies.
type Replier interface {
	Generate(ctx context.Context, req reply.Request) (*core.AIResponse, error)
	Stream(ctx context.Context, req reply.Request) <-chan core.StreamEvent
}

// Prober checks provider credentials with a live call.
type Prober interface {
	Test(ctx context.Context, cred credentials.Credential) probe.Result
	Validate(ctx context.Context, userID int64) (probe.Result, error)
}

// ModelLister lists the models installed on an Ollama server.
type ModelLister interface {
	Models(ctx context.Context, baseURL string) ([]string, error)
}

// UsageReader aggregates recorded usage.
type UsageReader interface {
	Summary(ctx context.Context, userID int64, since time.Time) (*usage.Summary, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the handlers. Usage, UsageReader and Storage
// are optional.
type Deps struct {
	Replies       Replier
	Conversations *conversation.Service
	Credentials   *credentials.Service
	Prober        Prober
	Models        ModelLister
	Usage         usage.Recorder
	UsageReader   UsageReader
	Storage       Pinger
}

// Handler holds the HTTP handlers
type Handler struct {
	deps Deps
	now  func() time.Time
}

// NewHandler creates a handler. A nil usage recorder records nothing.
func NewHandler(deps Deps) *Handler {
	if deps.Usage == nil {
		deps.Usage = usage.NoopLogger{}
	}
	return &Handler{deps: deps, now: time.Now}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	if h.deps.Storage != nil {
		if err := h.deps.Storage.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "storage unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Providers handles GET /api/providers
func (h *Handler) Providers(c echo.Context) error {
	return c.JSON(http.StatusOK, providers.All())
}

// Usage handles GET /api/user/usage?days=N
func (h *Handler) Usage(c echo.Context) error {
	days := defaultUsageDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return handleError(c, core.NewInvalidRequestError("days must be a positive integer", err))
		}
		days = min(n, maxUsageDays)
	}

	since := h.now().UTC().AddDate(0, 0, -days)
	summary := &usage.Summary{}
	if h.deps.UsageReader != nil {
		s, err := h.deps.UsageReader.Summary(c.Request().Context(), userID(c), since)
		if err != nil {
			return handleError(c, err)
		}
		summary = s
	}
	return c.JSON(http.StatusOK, map[string]any{
		"days":    days,
		"since":   since,
		"summary": summary,
	})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.NewInvalidRequestError(name+" must be a non-negative integer", err)
	}
	return n, nil
}
