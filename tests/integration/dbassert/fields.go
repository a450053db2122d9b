//go:build integration

package dbassert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ExpectedUsage contains expected values for usage assertions.
// Zero values are not checked, allowing partial matching.
type ExpectedUsage struct {
	RequestID string
	UserID    int64
	Provider  string
	Model     string
}

// AssertUsageMatches checks the non-zero fields of expected.
func AssertUsageMatches(t *testing.T, expected ExpectedUsage, actual UsageEntry) {
	t.Helper()

	assert.NotEmpty(t, actual.ID, "usage entry ID should be set")
	assert.False(t, actual.Timestamp.IsZero(), "usage timestamp should be set")
	if expected.RequestID != "" {
		assert.Equal(t, expected.RequestID, actual.RequestID, "request ID mismatch")
	}
	if expected.UserID != 0 {
		assert.Equal(t, expected.UserID, actual.UserID, "user ID mismatch")
	}
	if expected.Provider != "" {
		assert.Equal(t, expected.Provider, actual.Provider, "provider mismatch")
	}
	if expected.Model != "" {
		assert.Equal(t, expected.Model, actual.Model, "model mismatch")
	}
}

// AssertUsageTokensConsistent checks total = prompt + completion.
func AssertUsageTokensConsistent(t *testing.T, entry UsageEntry) {
	t.Helper()
	assert.Equal(t, entry.PromptTokens+entry.CompletionTokens, entry.TotalTokens,
		"total tokens should equal prompt + completion")
}

// AssertMessages checks roles and contents of stored turns in order.
func AssertMessages(t *testing.T, c StoredConversation, want ...StoredMessage) {
	t.Helper()
	if assert.Len(t, c.Messages, len(want)) {
		for i := range want {
			assert.Equal(t, want[i], c.Messages[i], "message %d", i)
		}
	}
}
