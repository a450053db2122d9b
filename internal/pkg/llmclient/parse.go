package llmclient

import (
	"github.com/tidwall/gjson"

	"englishcorner/internal/core"
)

// ParseCompletion extracts choices[0].message.content and usage from a
// successful response body.
func ParseCompletion(provider string, body []byte) (*core.AIResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewResponseFormatError(provider, core.ErrMalformedResponse)
	}
	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return nil, core.NewResponseFormatError(provider, core.ErrMalformedResponse)
	}
	msg := choices.Get("0.message")
	if !msg.IsObject() {
		return nil, core.NewResponseFormatError(provider, core.ErrMalformedResponse)
	}
	content := msg.Get("content").String()
	if content == "" {
		return nil, core.NewResponseFormatError(provider, core.ErrEmptyContent)
	}

	out := &core.AIResponse{Reply: content}
	if u := gjson.GetBytes(body, "usage"); u.IsObject() {
		out.Usage = &core.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return out, nil
}

// deltaContent returns choices[0].delta.content of a stream chunk, or "" when
// the payload is not JSON or carries no content.
func deltaContent(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	return gjson.GetBytes(data, "choices.0.delta.content").String()
}
