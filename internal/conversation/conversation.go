// Package conversation persists chat history per user.
package conversation

import (
	"errors"
	"strings"
	"time"

	"englishcorner/internal/core"
)

// ErrNotFound is returned when a conversation does not exist or belongs to another user.
var ErrNotFound = errors.New("conversation not found")

// Message is a stored turn.
type Message struct {
	Role      core.Role `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Conversation is a titled sequence of turns owned by one user.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    int64     `json:"userId" bson:"user_id"`
	Title     string    `json:"title" bson:"title"`
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// Turns returns the stored messages in provider wire form.
func (c *Conversation) Turns() []core.Message {
	out := make([]core.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, core.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Title derives a conversation title from its first message.
//
// Short messages are used whole. Otherwise the text is cut after an early
// question mark or full stop, or before an early comma, and failing those
// at 20 characters.
func Title(message string) string {
	clean := []rune(strings.TrimSpace(message))
	if len(clean) <= 15 {
		return string(clean)
	}
	if i := earlyIndex(clean, '?'); i > 0 {
		return string(clean[:i+1])
	}
	if i := earlyIndex(clean, '.'); i > 0 {
		return string(clean[:i+1])
	}
	if i := earlyIndex(clean, ','); i > 0 {
		return string(clean[:i]) + "..."
	}
	return string(clean[:min(len(clean), 20)]) + "..."
}

// earlyIndex returns the first index of r when it falls in [1, 25], else -1.
func earlyIndex(s []rune, r rune) int {
	for i, c := range s {
		if c == r {
			if i >= 1 && i <= 25 {
				return i
			}
			return -1
		}
	}
	return -1
}
