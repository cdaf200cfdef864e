// Package mock provides a test double for the chat.Provider interface.
//
// Use Provider in unit tests to verify that the chat loop sends correct
// requests and to feed controlled response streams without a live backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamEvents: []chat.Event{
//	        {Kind: chat.EventText, Text: "Hello!"},
//	        {Kind: chat.EventFinish, Finish: &chat.Finish{Reason: chat.FinishStop}},
//	    },
//	}
//	events, err := p.Stream(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/chat"
)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the Request passed to Stream.
	Req chat.Request
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req chat.Request
}

// Provider is a mock implementation of chat.Provider.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamEvents is the sequence of Event values emitted on the channel
	// returned by Stream. All events are sent before the channel is closed.
	StreamEvents []chat.Event

	// StreamScript, when non-empty, scripts successive Stream calls: the
	// n-th call emits StreamScript[n]. Calls past the end of the script fall
	// back to StreamEvents. Useful for tool-call round trips.
	StreamScript [][]chat.Event

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// starting a channel.
	StreamErr error

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *chat.Response

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Stream records the call and returns a channel that emits StreamEvents.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) Stream(ctx context.Context, req chat.Request) (<-chan chat.Event, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
		p.mu.Unlock()
		return nil, err
	}
	script := p.StreamEvents
	if idx := len(p.StreamCalls); idx < len(p.StreamScript) {
		script = p.StreamScript[idx]
	}
	events := make([]chat.Event, len(script))
	copy(events, script)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	p.mu.Unlock()

	ch := make(chan chat.Event, len(events))
	go func() {
		defer close(ch)
		for _, e := range events {
			select {
			case <-ctx.Done():
				return
			case ch <- e:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}

// Ensure Provider implements chat.Provider at compile time.
var _ chat.Provider = (*Provider)(nil)
