package llm

import (
	"context"
	"errors"
)

// DefaultSystemPrompt is sent as the system instruction on every chat call.
const DefaultSystemPrompt = "You are a helpful assistant for learning prompt " +
	"engineering. Respond in the same language as the user's input."

// GenerationParams carries optional sampling parameters for a completion.
// Nil fields fall back to provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType identifies the kind of event a provider stream emits.
type StreamEventType string

const (
	StreamEventToken StreamEventType = "token"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one normalized event from a provider token stream.
// Token events carry a non-empty Content fragment.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamCallback receives normalized stream events. Returning a non-nil
// error stops the stream; the provider must tear down the upstream
// connection and propagate the error.
type StreamCallback func(event StreamEvent) error

// StreamClient defines the streaming interface for any LLM backend.
//
// ChatStream opens a token-streaming completion for prompt and invokes
// callback once per normalized text delta, in generation order. It returns
// nil on natural completion.
//
// Error contract:
//   - Failures before any token is delivered (bad credentials, quota,
//     unreachable provider) are returned directly, classified so callers
//     can map them: errors.Is(err, ErrAuthentication) and
//     errors.Is(err, ErrQuotaExceeded); anything else is transient.
//   - Failures after tokens have been delivered are returned wrapped; the
//     caller decides how to represent a mid-stream failure.
//   - No retries happen inside the client. A repeated generative call costs
//     money, so retrying is a caller decision.
type StreamClient interface {
	ChatStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error
}

// Classification sentinels for open-time failures. Providers wrap these so
// callers can branch with errors.Is without knowing provider error shapes.
var (
	ErrAuthentication = errors.New("llm: authentication failed")
	ErrQuotaExceeded  = errors.New("llm: quota exceeded")
)
