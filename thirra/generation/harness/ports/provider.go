package harnessports

import (
	"context"
)

// Role tags every message explicitly.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // system prompt, already rendered
	Messages []PromptMessage   // ordered chat history including the current user input
	Model    string            // provider model identifier
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Options controls sampling and limits.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Seed         int
	Stop         []string
	// TimeoutMs applies to the provider call only (not overall harness deadline)
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging/telemetry
	Usage *Usage // optional usage information
}

// StreamMarker flags side-channel events interleaved with content.
type StreamMarker string

const (
	MarkerNone           StreamMarker = ""
	MarkerReasoningStart StreamMarker = "reasoning_start"
	MarkerReasoningEnd   StreamMarker = "reasoning_end"
)

// CompletionChunk is the provider's streaming delta.
type CompletionChunk struct {
	DeltaText string
	Marker    StreamMarker
	Done      bool
	Usage     *Usage // on final chunk when available
	Err       error  // set on the last chunk when the upstream stream failed
}

// Provider is the abstraction for all LLM backends (inference hidden behind this port).
// Stream closes its channel when the upstream sequence ends or ctx is cancelled.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}
