package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"englishcorner/internal/conversation"
)

func seedConversations(t *testing.T, env *testEnv, userID int64, n int) []*conversation.Conversation {
	t.Helper()
	out := make([]*conversation.Conversation, 0, n)
	for i := range n {
		c, err := env.convs.Exchange(context.Background(), userID, "", fmt.Sprintf("Question number %d", i), "Answer")
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t, nil)
	seedConversations(t, env, 42, 3)
	seedConversations(t, env, 7, 2)

	rec := env.do(http.MethodGet, "/api/chat/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]conversation.Conversation](t, rec), 3)

	rec = env.do(http.MethodGet, "/api/chat/conversations?limit=2&offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]conversation.Conversation](t, rec), 1)

	rec = env.do(http.MethodGet, "/api/chat/conversations?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversations_Search(t *testing.T) {
	env := newTestEnv(t, nil)
	seedConversations(t, env, 42, 3)

	rec := env.do(http.MethodGet, "/api/chat/conversations?q=number%201", "")
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]conversation.Conversation](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "Question number 1", found[0].Messages[0].Content)
}

func TestGetAndDeleteConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	convs := seedConversations(t, env, 42, 1)
	id := convs[0].ID

	rec := env.do(http.MethodGet, "/api/chat/conversations/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[conversation.Conversation](t, rec).ID)

	rec = env.do(http.MethodGet, "/api/chat/conversations/"+id, "", UserIDHeader, "7")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/chat/conversations/"+id, "", UserIDHeader, "7")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/chat/conversations/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/chat/conversations/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearConversations(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/chat/conversations/clear", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/chat/conversations/clear", `{"confirm":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedConversations(t, env, 42, 2)
	seedConversations(t, env, 7, 1)

	rec = env.do(http.MethodPost, "/api/chat/conversations/clear", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 2, body["deletedCount"], 0)

	n, err := env.convs.Count(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
