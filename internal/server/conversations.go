package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"englishcorner/internal/conversation"
	"englishcorner/internal/core"
)

// ListConversations handles GET /api/chat/conversations. With ?q it
// searches titles instead of paging.
func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return handleError(c, err)
	}

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		found, err := h.deps.Conversations.Search(ctx, uid, q, limit)
		if err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusOK, nonNil(found))
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return handleError(c, err)
	}
	list, err := h.deps.Conversations.List(ctx, uid, limit, offset)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

// GetConversation handles GET /api/chat/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.deps.Conversations.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/chat/conversations/:id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.deps.Conversations.Delete(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// ClearConversations handles POST /api/chat/conversations/clear. The body
// must carry {"confirm": true}.
func (h *Handler) ClearConversations(c echo.Context) error {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.Bind(&body); err != nil || !body.Confirm {
		return handleError(c, core.NewInvalidRequestError("please confirm clearing all conversations", err))
	}

	ctx := c.Request().Context()
	uid := userID(c)
	n, err := h.deps.Conversations.Clear(ctx, uid)
	if err != nil {
		return handleError(c, err)
	}
	if n == 0 {
		return handleError(c, core.NewNotFoundError("no conversations to clear"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"deletedCount": n,
		"message":      "all conversations cleared",
	})
}

func nonNil(list []*conversation.Conversation) []*conversation.Conversation {
	if list == nil {
		return []*conversation.Conversation{}
	}
	return list
}
