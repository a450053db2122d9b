package reply

import (
	"slices"

	"englishcorner/internal/core"
)

const (
	systemPrompt = "You are an English learning assistant. When I send you English words, phrases, " +
		"sentences, or an English description, please help me understand the meaning that the English " +
		"is trying to convey, correct any expression or grammatical errors in the sentences, and provide " +
		"new examples for the incorrect parts to help me understand and master the language."

	// Asks the model to explain in Chinese.
	assistantPrimer = "请用中文进行解释和说明。"
)

// Primer returns the fixed opening turns of every new conversation.
func Primer() []core.Message {
	return []core.Message{
		{Role: core.RoleSystem, Content: systemPrompt},
		{Role: core.RoleAssistant, Content: assistantPrimer},
	}
}

// BuildMessages returns the message list for a request. Without history it
// is the primer followed by message. With history, the history is used as
// given and message is appended only when the last turn is not already a
// user turn, so a user message persisted before generation is not sent twice.
func BuildMessages(message string, history []core.Message) []core.Message {
	user := core.Message{Role: core.RoleUser, Content: message}
	if len(history) == 0 {
		return append(Primer(), user)
	}
	out := slices.Clone(history)
	if out[len(out)-1].Role != core.RoleUser {
		out = append(out, user)
	}
	return out
}
