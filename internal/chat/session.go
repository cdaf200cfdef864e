// Package chat drives one text conversation against a streaming provider.
//
// A Session owns the message log. Each Send appends the user message
// optimistically, streams the model turn (text deltas, citations, inline
// media, tool calls) to a sink as it arrives, relays tool calls to the
// registered handler and feeds results back, then persists the conversation
// to the local history store and auto-titles it after the first exchange.
// When the request never reaches the model the optimistic append is rolled
// back, so the log only ever contains messages the model has seen.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/history"
	"github.com/parley-ai/parley/pkg/embeddings"
	provider "github.com/parley-ai/parley/pkg/provider/chat"
)

// maxToolRounds caps how many times one Send may loop through tool calls
// before giving up, so a model that keeps requesting tools cannot spin
// forever.
const maxToolRounds = 8

// embedDigestLimit caps how much conversation text is sent to the
// embeddings provider per save.
const embedDigestLimit = 8192

// ToolHandler executes one tool call and returns the result text the model
// should see. Returning an error sends the error text back instead; the
// conversation continues either way.
type ToolHandler func(ctx context.Context, call provider.ToolCall) (string, error)

// Turn is the assembled result of one Send: everything the model produced
// across all tool-call rounds.
type Turn struct {
	// Text is the concatenated reply text.
	Text string

	// Citations are the source attributions reported for the reply.
	Citations []provider.Citation

	// Media holds inline blobs the model generated (images, audio).
	Media []provider.Attachment

	// ToolCalls lists every tool invocation relayed during the turn.
	ToolCalls []provider.ToolCall

	// Usage sums token accounting over all rounds.
	Usage provider.Usage
}

// turnRecord is one message in the session log plus the turn metadata that
// the provider request does not carry: citations, attachment metadata for
// persistence, and the message time.
type turnRecord struct {
	msg       provider.Message
	citations []provider.Citation
	attMeta   []history.Attachment
	at        time.Time
}

// Option configures a [Session] during construction.
type Option func(*Session)

// WithStore sets the history store conversations persist to. Without one the
// session is ephemeral: Send skips persistence and Save returns an error.
func WithStore(st *history.Store) Option {
	return func(s *Session) {
		s.store = st
	}
}

// WithEmbeddings sets the provider used to vectorize conversations at save
// time for semantic search. Optional; without one conversations are saved
// but never match a search.
func WithEmbeddings(e embeddings.Provider) Option {
	return func(s *Session) {
		s.embedder = e
	}
}

// WithSystemPrompt sets the system prompt sent with every request.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// WithTools sets the tool definitions offered to the model.
func WithTools(tools []provider.ToolDefinition) Option {
	return func(s *Session) {
		s.tools = tools
	}
}

// WithToolHandler registers the handler tool calls are relayed to. Without
// one, tool-call turns end after the calls are reported on the Turn.
func WithToolHandler(h ToolHandler) Option {
	return func(s *Session) {
		s.toolHandler = h
	}
}

// WithTemperature sets the sampling temperature for every request. Zero
// means provider default.
func WithTemperature(t float64) Option {
	return func(s *Session) {
		s.temperature = t
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// Session is one conversation: the message log, its persistence bookkeeping
// and the provider it streams against.
//
// Sends are serialized; all other methods are safe to call concurrently.
type Session struct {
	chat     provider.Provider
	store    *history.Store
	embedder embeddings.Provider
	log      *slog.Logger

	systemPrompt string
	tools        []provider.ToolDefinition
	toolHandler  ToolHandler
	temperature  float64

	// sendMu serializes turns; mu guards the log and bookkeeping.
	sendMu sync.Mutex
	mu     sync.Mutex

	entries   []turnRecord
	convID    string
	title     string
	createdAt time.Time
}

// New creates a Session over the given provider.
func New(p provider.Provider, opts ...Option) (*Session, error) {
	if p == nil {
		return nil, errors.New("chat: nil provider")
	}
	s := &Session{
		chat: p,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Resume loads a stored conversation into an empty session so the next Send
// continues it. Attachment payloads are not persisted, so resumed messages
// contribute text only to future requests.
func (s *Session) Resume(conv *history.Conversation) error {
	if conv == nil {
		return errors.New("chat: nil conversation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 || s.convID != "" {
		return errors.New("chat: session already has history")
	}
	s.convID = conv.ID
	s.title = conv.Title
	s.createdAt = conv.CreatedAt
	s.entries = fromStored(conv.Messages)
	return nil
}

// ID returns the conversation's store identifier, empty until first saved.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Title returns the conversation title, empty until auto-titled or set.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle overrides the conversation title. Persisted on the next Send or
// Save.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = strings.TrimSpace(title)
}

// Messages returns a copy of the conversation log as the provider sees it.
func (s *Session) Messages() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestMessages()
}

// Send appends the user message, streams the model's reply and returns the
// assembled turn. Every stream event is forwarded to sink (when non-nil) as
// it arrives, on the calling goroutine. Tool-call rounds run within the same
// Send: calls go to the registered handler and results are sent back until
// the model finishes with text.
//
// When the stream cannot be started the optimistic user append is rolled
// back and the log is exactly as before the call. A failure mid-stream keeps
// the user message (the model saw it) but discards the partial reply.
func (s *Session) Send(ctx context.Context, text string, attachments []provider.Attachment, sink func(provider.Event)) (*Turn, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, errors.New("chat: empty message")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	s.entries = append(s.entries, turnRecord{
		msg: provider.Message{
			Role:        provider.RoleUser,
			Text:        text,
			Attachments: attachments,
		},
		attMeta: attachmentMeta(attachments),
		at:      time.Now().UTC(),
	})
	s.mu.Unlock()

	turn := &Turn{}
	for round := 0; ; round++ {
		if round >= maxToolRounds {
			return nil, fmt.Errorf("chat: model requested tools %d rounds in a row, giving up", maxToolRounds)
		}

		s.mu.Lock()
		req := provider.Request{
			Messages:     s.requestMessages(),
			Tools:        s.tools,
			Temperature:  s.temperature,
			SystemPrompt: s.systemPrompt,
		}
		s.mu.Unlock()

		events, err := s.chat.Stream(ctx, req)
		if err != nil {
			if round == 0 {
				s.rollbackLast()
			}
			return nil, fmt.Errorf("chat: start stream: %w", err)
		}

		reply, fin := s.assemble(events, turn, sink)
		if fin == nil {
			return nil, errors.New("chat: stream ended without a finish event")
		}
		if fin.Reason == provider.FinishError {
			err := fin.Err
			if err == nil {
				err = errors.New("unknown stream failure")
			}
			return nil, fmt.Errorf("chat: stream: %w", err)
		}
		turn.Usage.PromptTokens += fin.Usage.PromptTokens
		turn.Usage.CompletionTokens += fin.Usage.CompletionTokens
		turn.Usage.TotalTokens += fin.Usage.TotalTokens

		s.mu.Lock()
		s.entries = append(s.entries, reply)
		s.mu.Unlock()

		if fin.Reason != provider.FinishToolCalls || s.toolHandler == nil || len(reply.msg.ToolCalls) == 0 {
			break
		}
		s.runTools(ctx, reply.msg.ToolCalls)
	}

	s.finishTurn(ctx)
	return turn, nil
}

// Save persists the conversation immediately. Send already saves after every
// turn; Save exists for explicit checkpoints (the /save command).
func (s *Session) Save(ctx context.Context) error {
	if s.store == nil {
		return errors.New("chat: no history store configured")
	}
	return s.persist(ctx)
}

// assemble drains one response stream, forwarding events to sink and
// accumulating the assistant record and the turn totals. Returns the record
// and the terminal finish (nil when the stream ended without one).
func (s *Session) assemble(events <-chan provider.Event, turn *Turn, sink func(provider.Event)) (turnRecord, *provider.Finish) {
	rec := turnRecord{
		msg: provider.Message{Role: provider.RoleAssistant},
		at:  time.Now().UTC(),
	}
	var text strings.Builder
	var fin *provider.Finish

	for ev := range events {
		if sink != nil {
			sink(ev)
		}
		switch ev.Kind {
		case provider.EventText:
			text.WriteString(ev.Text)
		case provider.EventCitation:
			if ev.Citation != nil {
				rec.citations = append(rec.citations, *ev.Citation)
				turn.Citations = append(turn.Citations, *ev.Citation)
			}
		case provider.EventBlob:
			if ev.Blob != nil {
				rec.attMeta = append(rec.attMeta, metaOf(*ev.Blob))
				turn.Media = append(turn.Media, *ev.Blob)
			}
		case provider.EventToolCall:
			if ev.ToolCall != nil {
				rec.msg.ToolCalls = append(rec.msg.ToolCalls, *ev.ToolCall)
				turn.ToolCalls = append(turn.ToolCalls, *ev.ToolCall)
			}
		case provider.EventFinish:
			fin = ev.Finish
		}
	}

	rec.msg.Text = text.String()
	turn.Text += rec.msg.Text
	return rec, fin
}

// runTools relays each call to the handler and appends the results as
// tool-role messages for the next round. Handler failures become the result
// text; the model decides what to do with them.
func (s *Session) runTools(ctx context.Context, calls []provider.ToolCall) {
	for _, call := range calls {
		result, err := s.toolHandler(ctx, call)
		if err != nil {
			s.log.Warn("chat: tool call failed", "tool", call.Name, "error", err)
			result = fmt.Sprintf("tool error: %v", err)
		}
		s.mu.Lock()
		s.entries = append(s.entries, turnRecord{
			msg: provider.Message{
				Role:       provider.RoleTool,
				Text:       result,
				ToolCallID: call.ID,
			},
			at: time.Now().UTC(),
		})
		s.mu.Unlock()
	}
}

// finishTurn runs the post-turn bookkeeping: title the conversation after
// its first exchange, then persist. Neither failure fails the turn; the
// reply already reached the caller.
func (s *Session) finishTurn(ctx context.Context) {
	if s.store == nil {
		return
	}
	if s.Title() == "" {
		if title, err := s.generateTitle(ctx); err != nil {
			s.log.Debug("chat: auto-title failed", "error", err)
		} else if title != "" {
			s.SetTitle(title)
		}
	}
	if err := s.persist(ctx); err != nil {
		s.log.Warn("chat: save conversation", "error", err)
	}
}

// rollbackLast removes the optimistic user append after a failed send.
func (s *Session) rollbackLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.entries); n > 0 {
		s.entries = s.entries[:n-1]
	}
}

// requestMessages projects the log into provider messages. Must be called
// with mu held.
func (s *Session) requestMessages() []provider.Message {
	msgs := make([]provider.Message, len(s.entries))
	for i, e := range s.entries {
		msgs[i] = e.msg
	}
	return msgs
}

// persist writes the conversation to the store, computing the search vector
// when an embeddings provider is configured.
func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	conv := history.Conversation{
		ID:        s.convID,
		Title:     s.title,
		CreatedAt: s.createdAt,
		Messages:  toStored(s.entries),
	}
	digest := s.digestLocked()
	s.mu.Unlock()

	if s.embedder != nil && digest != "" {
		vecs, err := s.embedder.Embed(ctx, []string{digest})
		if err != nil || len(vecs) != 1 {
			s.log.Warn("chat: embed conversation", "error", err)
		} else {
			conv.Embedding = vecs[0]
			conv.EmbeddingModel = s.embedder.ModelID()
		}
	}

	if err := s.store.Put(ctx, &conv); err != nil {
		return fmt.Errorf("chat: save conversation: %w", err)
	}

	s.mu.Lock()
	s.convID = conv.ID
	s.createdAt = conv.CreatedAt
	s.mu.Unlock()
	return nil
}

// digestLocked builds the text sent to the embeddings provider: title plus
// message texts, capped. Must be called with mu held.
func (s *Session) digestLocked() string {
	var b strings.Builder
	b.WriteString(s.title)
	for _, e := range s.entries {
		if e.msg.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		remain := embedDigestLimit - b.Len()
		if remain <= 0 {
			break
		}
		t := e.msg.Text
		if len(t) > remain {
			t = t[:remain]
		}
		b.WriteString(t)
	}
	return b.String()
}

// titlePrompt asks the model for a listing label. Kept strict so the reply
// can be used verbatim.
const titlePrompt = `Write a short title for this conversation, at most six words. Reply with the title only: no quotes, no trailing punctuation.`

// generateTitle asks the provider for a conversation title based on the
// opening exchange.
func (s *Session) generateTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	var b strings.Builder
	for i, e := range s.entries {
		if i >= 4 {
			break
		}
		if e.msg.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]: %s\n", e.msg.Role, e.msg.Text)
	}
	s.mu.Unlock()
	if b.Len() == 0 {
		return "", nil
	}

	resp, err := s.chat.Complete(ctx, provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Text: b.String()},
		},
		SystemPrompt: titlePrompt,
		Temperature:  0.3,
		MaxTokens:    32,
	})
	if err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	if resp == nil {
		return "", nil
	}

	title := strings.TrimSpace(resp.Text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, `"'`)
	if len(title) > 80 {
		title = strings.TrimSpace(title[:80])
	}
	return title, nil
}
