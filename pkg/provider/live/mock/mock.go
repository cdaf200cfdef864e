// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to drive the bidirectional audio/transcript streams and
// inspect which methods the session controller invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... connect the controller ...
//	sess.EmitAudio(chunk)   // model speaks
//	sess.End(nil)           // remote hangs up cleanly
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/live"
)

// Ensure the mocks implement the live interfaces at compile time.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ─── Session ──────────────────────────────────────────────────────────────────

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of live.Session. The test drives the
// remote side: EmitAudio and EmitTranscript feed the output channels, End
// simulates the remote closing the session. Close (the local side) also ends
// the streams, mirroring the real transports.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	audioCh     chan []byte
	transcripts chan live.Transcript
	toolHandler live.ToolCallHandler
	errVal      error
	endOnce     sync.Once
}

// NewSession creates a Session with buffered stream channels.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan live.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Audio returns the mock's audio channel.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Transcripts returns the mock's transcript channel.
func (s *Session) Transcripts() <-chan live.Transcript { return s.transcripts }

// Err returns the error set by End, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnToolCall stores the handler.
func (s *Session) OnToolCall(handler live.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// Handler returns the currently registered ToolCallHandler, for tests that
// verify registration or invoke the handler directly.
func (s *Session) Handler() live.ToolCallHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolHandler
}

// Close records the call, ends the streams and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()

	s.endStreams()
	return err
}

// EmitAudio places one audio chunk on the Audio channel, as if the model had
// spoken. It must not be called after End or Close.
func (s *Session) EmitAudio(chunk []byte) {
	s.audioCh <- chunk
}

// EmitTranscript places one transcript line on the Transcripts channel.
// It must not be called after End or Close.
func (s *Session) EmitTranscript(t live.Transcript) {
	s.transcripts <- t
}

// End simulates the remote side terminating the session: the stream channels
// close and Err will return err (nil for a clean shutdown).
func (s *Session) End(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()

	s.endStreams()
}

func (s *Session) endStreams() {
	s.endOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
}
