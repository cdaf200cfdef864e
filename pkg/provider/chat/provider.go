// Package chat defines the Provider interface for streaming text-generation
// backends.
//
// A chat provider wraps a remote model API (e.g., Google Gemini or OpenAI)
// and exposes a uniform streaming interface so the chat loop can render
// deltas, citations, inline media and tool calls without coupling to any
// specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package chat

import "context"

// Request carries everything the model needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type Request struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model.
	// The model may choose to call one or more of them in its response.
	Tools []ToolDefinition

	// Temperature controls output randomness. Zero means use the provider
	// default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers that do not natively support a
	// dedicated system prompt should prepend it as a "system"-role message.
	SystemPrompt string
}

// Response is returned by the non-streaming Complete method.
type Response struct {
	// Text is the full text of the model's reply. Empty when the model
	// responds exclusively with tool calls.
	Text string

	// ToolCalls lists all tool invocations requested by the model. The
	// caller is responsible for executing them and appending the results to
	// the conversation.
	ToolCalls []ToolCall

	// Citations lists source attributions for the reply, when the provider
	// reports them.
	Citations []Citation

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any streaming chat backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// Stream sends req to the model and returns a read-only channel that
	// emits Event values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a terminal Event of
	// kind EventFinish with Finish.Reason == FinishError; the initial error
	// return is non-nil only for failures that prevent the stream from
	// starting (e.g., invalid credentials, malformed request).
	//
	// The returned channel must never be nil when error is nil.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// Complete sends req to the model and waits for the full response. It is
	// a convenience for callers that do not need incremental output, such as
	// one-shot utility calls (conversation auto-titling).
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
