package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"englishcorner/internal/conversation"
	"englishcorner/internal/core"
	"englishcorner/internal/reply"
	"englishcorner/internal/usage"
)

// MaxMessageRunes caps the length of one user message.
const MaxMessageRunes = 5000

type chatRequest struct {
	Message        string                  `json:"message"`
	ConversationID string                  `json:"conversationId"`
	Options        *core.GenerationOptions `json:"options,omitempty"`
}

func bindChat(c echo.Context) (*chatRequest, error) {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return nil, core.NewInvalidRequestError("invalid request body", err)
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, core.NewInvalidRequestError("message must not be empty", nil)
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageRunes {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("message must be at most %d characters", MaxMessageRunes), nil)
	}
	return &req, nil
}

// history is the primer followed by the stored turns of conv.
func history(conv *conversation.Conversation) []core.Message {
	if conv == nil {
		return nil
	}
	return append(reply.Primer(), conv.Turns()...)
}

// Chat handles POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	req, err := bindChat(c)
	if err != nil {
		return handleError(c, err)
	}
	ctx := c.Request().Context()
	uid := userID(c)

	var conv *conversation.Conversation
	if req.ConversationID != "" {
		if conv, err = h.deps.Conversations.Get(ctx, uid, req.ConversationID); err != nil {
			return handleError(c, err)
		}
	}

	msgs := history(conv)
	if msgs != nil {
		msgs = append(msgs, core.Message{Role: core.RoleUser, Content: req.Message})
	}
	resp, err := h.deps.Replies.Generate(ctx, reply.Request{
		UserID:  uid,
		Message: req.Message,
		Options: req.Options,
		History: msgs,
	})
	if err != nil {
		return handleError(c, err)
	}
	h.deps.Usage.Write(usage.NewEntry(ctx, resp, false))

	conv, err = h.deps.Conversations.Exchange(ctx, uid, req.ConversationID, req.Message, resp.Reply)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"reply":        resp.Reply,
		"provider":     resp.Provider,
		"model":        resp.Model,
		"conversation": conv,
	})
}

// ChatStream handles POST /api/chat/stream. The user message is stored
// before generation starts; the reply is stored once the stream completes.
func (h *Handler) ChatStream(c echo.Context) error {
	req, err := bindChat(c)
	if err != nil {
		return handleError(c, err)
	}
	ctx := c.Request().Context()
	uid := userID(c)

	var conv *conversation.Conversation
	if req.ConversationID == "" {
		conv, err = h.deps.Conversations.Start(ctx, uid, req.Message)
	} else {
		conv, err = h.deps.Conversations.AppendUser(ctx, uid, req.ConversationID, req.Message)
	}
	if err != nil {
		return handleError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &eventWriter{w: w}
	sse.send(ctx, map[string]any{"type": "start", "conversation": conv})

	events := h.deps.Replies.Stream(ctx, reply.Request{
		UserID:  uid,
		Message: req.Message,
		Options: req.Options,
		History: history(conv),
	})
	for ev := range events {
		switch ev.Type {
		case core.StreamEventChunk:
			sse.send(ctx, map[string]any{"type": "chunk", "content": ev.Content})
		case core.StreamEventDone:
			h.finishStream(ctx, sse, uid, conv.ID, ev.Response)
		case core.StreamEventError:
			slog.WarnContext(ctx, "stream failed",
				"conversation_id", conv.ID,
				"error_type", core.KindOf(ev.Err),
				"error", ev.Err,
			)
			sse.send(ctx, map[string]any{"type": "error", "error": publicMessage(ev.Err)})
		}
	}
	return nil
}

// finishStream stores the reply even if the client has gone away.
func (h *Handler) finishStream(ctx context.Context, sse *eventWriter, uid int64, conversationID string, resp *core.AIResponse) {
	persistCtx := context.WithoutCancel(ctx)
	h.deps.Usage.Write(usage.NewEntry(persistCtx, resp, true))

	if _, err := h.deps.Conversations.AppendAssistant(persistCtx, uid, conversationID, resp.Reply); err != nil {
		slog.ErrorContext(ctx, "failed to store streamed reply", "conversation_id", conversationID, "error", err)
		sse.send(ctx, map[string]any{"type": "error", "error": "failed to save the reply"})
		return
	}
	sse.send(ctx, map[string]any{"type": "done", "content": resp.Reply})
}

// eventWriter writes server-sent events. After the first write error it
// drops everything.
type eventWriter struct {
	w      *echo.Response
	broken bool
}

func (e *eventWriter) send(ctx context.Context, event map[string]any) {
	if e.broken {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode stream event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.broken = true
		slog.DebugContext(ctx, "client went away during stream", "error", err)
		return
	}
	e.w.Flush()
}
