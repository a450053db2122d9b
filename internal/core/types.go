package core

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation in provider wire form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request bounds enforced on every outgoing call.
const (
	MinTemperature = 0.0
	MaxTemperature = 1.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 8192
)

// GenerationConfig holds the sampling parameters sent with each request.
type GenerationConfig struct {
	Model            string  `json:"model" yaml:"model"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	MaxTokens        int     `json:"maxTokens" yaml:"max_tokens"`
	TopP             float64 `json:"topP" yaml:"top_p"`
	FrequencyPenalty float64 `json:"frequencyPenalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presencePenalty" yaml:"presence_penalty"`
}

// DefaultGenerationConfig returns the built-in sampling defaults for model.
func DefaultGenerationConfig(model string) GenerationConfig {
	return GenerationConfig{
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        0.9,
	}
}

// GenerationOptions are per-call overrides; nil fields keep the base value.
type GenerationOptions struct {
	Model            *string  `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
}

// Merge applies the non-nil overrides in o to a copy of c.
func (c GenerationConfig) Merge(o *GenerationOptions) GenerationConfig {
	if o == nil {
		return c
	}
	if o.Model != nil && *o.Model != "" {
		c.Model = *o.Model
	}
	if o.Temperature != nil {
		c.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		c.MaxTokens = *o.MaxTokens
	}
	if o.TopP != nil {
		c.TopP = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		c.FrequencyPenalty = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		c.PresencePenalty = *o.PresencePenalty
	}
	return c
}

// Clamped returns c with max tokens in [1, 8192] and temperature in [0, 1].
func (c GenerationConfig) Clamped() GenerationConfig {
	c.MaxTokens = min(max(c.MaxTokens, MinMaxTokens), MaxMaxTokens)
	c.Temperature = min(max(c.Temperature, MinTemperature), MaxTemperature)
	return c
}

// ChatRequest is the OpenAI-compatible chat completion body.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	Stream           bool      `json:"stream"`
}

// NewChatRequest builds a request body from cfg, clamping out-of-range values.
func NewChatRequest(cfg GenerationConfig, messages []Message, stream bool) *ChatRequest {
	cfg = cfg.Clamped()
	return &ChatRequest{
		Model:            cfg.Model,
		Messages:         messages,
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		Stream:           stream,
	}
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIResponse is a completed reply.
type AIResponse struct {
	Reply string `json:"reply"`
	Usage *Usage `json:"usage,omitempty"`

	// Set by the orchestrator: who answered, and whether the operator's
	// fallback credential paid for it.
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	SystemCredential bool   `json:"-"`
}

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	StreamEventChunk StreamEventType = "chunk"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one item of a streamed reply. Exactly one of Content, Response
// or Err is meaningful depending on Type; done and error are always last.
type StreamEvent struct {
	Type     StreamEventType
	Content  string
	Response *AIResponse
	Err      error
}
