package llmclient

import (
	"context"
	"time"
)

// RequestInfo describes an outgoing provider call.
type RequestInfo struct {
	Provider string
	Endpoint string
	Stream   bool
}

// ResponseInfo describes a finished provider call.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	// Chunks is the number of content deltas delivered (streams only).
	Chunks int
	Err    error
}

// Hooks observe provider calls. Either field may be nil.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

func (h Hooks) start(ctx context.Context, info RequestInfo) context.Context {
	if h.OnRequestStart == nil {
		return ctx
	}
	if out := h.OnRequestStart(ctx, info); out != nil {
		return out
	}
	return ctx
}

func (h Hooks) end(ctx context.Context, info ResponseInfo) {
	if h.OnRequestEnd != nil {
		h.OnRequestEnd(ctx, info)
	}
}
