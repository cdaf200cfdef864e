// Package live defines the Provider interface for realtime speech backends.
//
// A live provider wraps a bidirectional streaming API that consumes
// microphone audio and returns synthesised speech in a single, stateful
// session, bypassing a separate transcribe → complete → synthesise pipeline
// entirely. Examples include the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is Session: a multiplexed connection carrying
// audio, transcripts and tool calls concurrently, each surfaced on its own
// channel. Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/provider/chat"
)

// ErrClosed is returned by Session methods invoked after Close.
var ErrClosed = errors.New("live: session closed")

// Wire formats every supported backend speaks: raw 16-bit little-endian PCM,
// mono. Microphone audio goes up at 16kHz, synthesised speech comes down at
// 24kHz.
var (
	InputFormat  = audio.Format{SampleRate: 16000, Channels: 1}
	OutputFormat = audio.Format{SampleRate: 24000, Channels: 1}
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Transcript is one line of conversation text: user speech as the model
// recognised it, or the text form of the model's spoken reply.
type Transcript struct {
	Speaker Speaker
	Text    string
	Time    time.Time
}

// ToolCallHandler is invoked by the session whenever the model requests a
// tool call. It receives the tool name and JSON-encoded arguments and
// returns either a result string (injected back into the session as tool
// output) or an error.
//
// The handler may be called from the session's receive goroutine: it must
// not call blocking session methods and should offload long-running work.
type ToolCallHandler func(name string, args string) (string, error)

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice selects the synthesis voice. Empty means the provider default.
	// Valid names are listed by [Provider.Capabilities].
	Voice string

	// Instructions is the system-level prompt for the session.
	Instructions string

	// Tools is the set of tool definitions offered to the model for the
	// whole session. Calls are surfaced via [Session.OnToolCall].
	Tools []chat.ToolDefinition
}

// Capabilities describes static properties of a live provider. The values
// are constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count the model maintains across
	// the session.
	ContextWindow int

	// MaxSessionDuration is the provider's hard upper bound on session
	// lifetime. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Resumable indicates whether a session can be reconnected after a
	// transient network failure without losing accumulated context.
	Resumable bool

	// Voices lists the synthesis voice names this provider accepts.
	Voices []string
}

// Session is an open live session. It is an interface so that tests can
// supply mock implementations without a provider connection.
//
// The session is the hot path of the voice pipeline: every method must
// return quickly, and audio I/O is channel-based so neither direction can
// stall the caller's audio handling. All methods are safe for concurrent
// use. Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers one raw PCM chunk of microphone audio in
	// [InputFormat]. Returns [ErrClosed] after Close, or a transport error
	// when the chunk cannot be written.
	SendAudio(chunk []byte) error

	// Audio returns the channel of raw PCM chunks in [OutputFormat], in
	// arrival order, as the model synthesises its reply. The channel is
	// closed when the session ends; call [Session.Err] afterwards to check
	// whether it ended cleanly. Consumers must drain promptly so
	// backpressure cannot stall the session's receive loop.
	Audio() <-chan []byte

	// Transcripts returns the channel of transcript lines for both user
	// speech and model replies. Closed when the session ends.
	Transcripts() <-chan Transcript

	// Err returns the error that terminated the session, or nil when it
	// ended cleanly. Meaningful once the Audio channel has closed.
	Err() error

	// OnToolCall registers the handler invoked when the model requests a
	// tool call. Calling it again replaces the handler; nil clears it.
	OnToolCall(handler ToolCallHandler)

	// Close terminates the session, releases its resources and closes the
	// Audio and Transcripts channels. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
type Provider interface {
	// Connect establishes a new live session. The returned Session is
	// ready to accept audio immediately. The caller owns the Session and
	// is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
