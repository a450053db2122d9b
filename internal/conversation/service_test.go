package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"englishcorner/internal/core"
)

// newTestService returns a service whose clock advances one second per call.
func newTestService(store Store) *Service {
	svc := NewService(store)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc
}

func TestService_StartAndAppend(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())

	c, err := svc.Start(ctx, 1, "What is a phrasal verb? Give me examples")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "What is a phrasal verb?", c.Title)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, core.RoleUser, c.Messages[0].Role)

	updated, err := svc.AppendAssistant(ctx, 1, c.ID, "A phrasal verb is...")
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))
	assert.Equal(t, []core.Message{
		{Role: core.RoleUser, Content: "What is a phrasal verb? Give me examples"},
		{Role: core.RoleAssistant, Content: "A phrasal verb is..."},
	}, updated.Turns())
}

func TestService_OwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())

	c, err := svc.Start(ctx, 1, "hello")
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AppendUser(ctx, 2, c.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, 2, c.ID), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, 1, c.ID))
	_, err = svc.Get(ctx, 1, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())

	first, err := svc.Start(ctx, 1, "first")
	require.NoError(t, err)
	second, err := svc.Start(ctx, 1, "second")
	require.NoError(t, err)
	_, err = svc.Start(ctx, 9, "other user")
	require.NoError(t, err)

	// Touching the older conversation moves it to the top.
	_, err = svc.AppendUser(ctx, 1, first.ID, "again")
	require.NoError(t, err)

	list, err := svc.List(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	list, err = svc.List(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = svc.List(ctx, 1, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := svc.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestService_AddMessagesCreatesWhenMissing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())
	msgs := []Message{
		{Role: core.RoleUser, Content: "Is this sentence right?"},
		{Role: core.RoleAssistant, Content: "Yes."},
	}

	c, err := svc.AddMessages(ctx, 1, "does-not-exist", msgs...)
	require.NoError(t, err)
	assert.NotEqual(t, "does-not-exist", c.ID)
	assert.Equal(t, "Is this sentence right?", c.Title)

	again, err := svc.AddMessages(ctx, 1, c.ID, Message{Role: core.RoleUser, Content: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, again.Messages, 3)
}

func TestService_CreateDefaultTitle(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	c, err := svc.Create(context.Background(), 1, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, c.Title)
	assert.NotNil(t, c.Messages)
}

func TestService_SearchAndClear(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())
	for _, m := range []string{"present perfect", "Past Perfect tense", "articles"} {
		_, err := svc.Start(ctx, 1, m)
		require.NoError(t, err)
	}

	found, err := svc.Search(ctx, 1, "perfect", 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	n, err := svc.Clear(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := svc.Count(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_Exchange(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())

	c, err := svc.Exchange(ctx, 7, "", "How do I use 'since'?", "Use it with a point in time.")
	require.NoError(t, err)
	assert.Equal(t, "How do I use 'since'?", c.Title)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, core.RoleAssistant, c.Messages[1].Role)
	assert.True(t, c.Messages[1].Timestamp.After(c.Messages[0].Timestamp))

	c, err = svc.Exchange(ctx, 7, c.ID, "And 'for'?", "Use it with a duration.")
	require.NoError(t, err)
	assert.Len(t, c.Messages, 4)
}
