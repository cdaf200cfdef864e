// Package history persists chat conversations in a local Badger database.
//
// Each conversation is stored as a single msgpack-encoded record keyed by
// "conv/<uuid>". Records carry the full message log (roles, text, attachment
// metadata, citations, tool calls) plus an optional embedding vector used by
// semantic search. Vectors are computed by the caller when an embeddings
// provider is configured; conversations saved without one remain listable
// and readable, they just never match a search.
//
// The store is safe for concurrent use.
package history

import "time"

// Conversation is the unit of storage: one chat session from first message
// to last, plus bookkeeping for listing and search.
type Conversation struct {
	// ID is the unique identifier, a UUID assigned on first Put.
	ID string `msgpack:"id"`

	// Title is a short human-readable label. Auto-generated after the first
	// exchange or set explicitly by the user.
	Title string `msgpack:"title"`

	// CreatedAt is when the conversation was first saved.
	CreatedAt time.Time `msgpack:"created_at"`

	// UpdatedAt is when the conversation was last saved. List orders by it,
	// newest first.
	UpdatedAt time.Time `msgpack:"updated_at"`

	// Messages is the full log in chronological order.
	Messages []Message `msgpack:"messages"`

	// Embedding is the vector representation of the conversation used for
	// semantic search. Empty when no embeddings provider was configured at
	// save time.
	Embedding []float32 `msgpack:"embedding,omitempty"`

	// EmbeddingModel identifies the model that produced Embedding. Search
	// skips conversations whose vectors come from a different model, since
	// vectors from different models are not comparable.
	EmbeddingModel string `msgpack:"embedding_model,omitempty"`
}

// Message is a single turn in a conversation.
type Message struct {
	// Role is who produced the message: "system", "user", "assistant", or "tool".
	Role string `msgpack:"role"`

	// Text is the message content.
	Text string `msgpack:"text"`

	// Timestamp is when the message was added.
	Timestamp time.Time `msgpack:"ts"`

	// Attachments records files sent with the message. Only metadata is
	// stored; the payload bytes stay wherever the user loaded them from.
	Attachments []Attachment `msgpack:"attachments,omitempty"`

	// Citations are source references the model attached to this message.
	Citations []Citation `msgpack:"citations,omitempty"`

	// ToolCalls are function invocations the model requested in this turn.
	ToolCalls []ToolCall `msgpack:"tool_calls,omitempty"`

	// ToolCallID links a "tool"-role message to the call it answers.
	ToolCallID string `msgpack:"tool_call_id,omitempty"`
}

// Attachment is the stored record of a file sent with a message.
type Attachment struct {
	// Name is the original file name.
	Name string `msgpack:"name"`

	// MIMEType is the detected content type (e.g., "image/png").
	MIMEType string `msgpack:"mime"`

	// Size is the payload size in bytes at send time.
	Size int `msgpack:"size"`
}

// Citation is a source reference recorded with an assistant message.
type Citation struct {
	// URI is the source location.
	URI string `msgpack:"uri"`

	// Title is the human-readable source title, when known.
	Title string `msgpack:"title,omitempty"`

	// Start and End are byte offsets into the message text that the source
	// supports. Both zero when the provider gave no span.
	Start int `msgpack:"start,omitempty"`
	End   int `msgpack:"end,omitempty"`
}

// ToolCall is a function invocation recorded with an assistant message.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `msgpack:"id"`

	// Name is the function name.
	Name string `msgpack:"name"`

	// Arguments is the JSON-encoded argument object.
	Arguments string `msgpack:"args"`
}

// Summary is the listing projection of a conversation: everything needed to
// render one line of `history list` without decoding the message log twice.
type Summary struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// SearchResult pairs a conversation summary with its similarity score in
// [-1, 1]. Higher is more similar.
type SearchResult struct {
	Summary Summary
	Score   float64
}
