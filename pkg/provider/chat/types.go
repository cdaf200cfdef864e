package chat

// Role identifies the author of a conversation message.
type Role string

// Message roles understood by all providers.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is the author of the message.
	Role Role

	// Text is the text content of the message.
	Text string

	// Attachments holds inline media blobs sent alongside the text
	// (user messages only).
	Attachments []Attachment

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is RoleTool, identifying which tool call
	// this message responds to.
	ToolCallID string
}

// Attachment is a mime-typed byte blob inlined into a message, such as an
// image or an audio clip.
type Attachment struct {
	// Name is the original file name, if any. Informational only.
	Name string

	// MIMEType identifies the content, e.g. "image/png".
	MIMEType string

	// Data is the raw content.
	Data []byte
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Citation attributes a span of the reply to an external source.
type Citation struct {
	// URI locates the source document.
	URI string

	// Title is the human-readable source title, when reported.
	Title string

	// Start and End delimit the attributed span in the reply text, in
	// bytes. Both are zero when the provider does not report span offsets.
	Start int
	End   int
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// EventKind discriminates the payload of a streamed Event.
type EventKind string

// Event kinds emitted by Stream.
const (
	// EventText carries an incremental text fragment in Event.Text.
	EventText EventKind = "text"

	// EventCitation carries a source attribution in Event.Citation.
	EventCitation EventKind = "citation"

	// EventBlob carries inline media produced by the model in Event.Blob.
	EventBlob EventKind = "blob"

	// EventToolCall carries a complete tool invocation in Event.ToolCall.
	EventToolCall EventKind = "tool_call"

	// EventFinish is the terminal event of every stream; Event.Finish holds
	// the reason and token usage.
	EventFinish EventKind = "finish"
)

// Event is a single element of a response stream. Exactly one payload field
// is populated, selected by Kind.
type Event struct {
	Kind EventKind

	Text     string
	Citation *Citation
	Blob     *Attachment
	ToolCall *ToolCall
	Finish   *Finish
}

// FinishReason indicates why generation stopped.
type FinishReason string

// Finish reasons reported on the terminal stream event.
const (
	// FinishStop is the natural end of the response.
	FinishStop FinishReason = "stop"

	// FinishMaxTokens means the MaxTokens budget was exhausted.
	FinishMaxTokens FinishReason = "length"

	// FinishToolCalls means the model stopped to invoke tools.
	FinishToolCalls FinishReason = "tool_calls"

	// FinishError means the stream failed; Finish.Err holds the cause.
	FinishError FinishReason = "error"
)

// Finish is the payload of the terminal EventFinish event.
type Finish struct {
	// Reason indicates why generation stopped.
	Reason FinishReason

	// Usage contains token accounting for the whole exchange. May be zero
	// when the provider does not report usage on streams.
	Usage Usage

	// Err holds the stream failure when Reason is FinishError, nil otherwise.
	Err error
}
