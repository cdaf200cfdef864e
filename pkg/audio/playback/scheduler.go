package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-ai/parley/pkg/audio"
)

// Output is the slice of an output device the Scheduler drives.
type Output interface {
	// Now returns the output clock position in seconds.
	Now() float64

	// ScheduleAt enqueues buf to begin playing at start seconds on the clock.
	ScheduleAt(buf *audio.Buffer, start float64)
}

// Decision describes one scheduling outcome, for observability.
type Decision struct {
	// Start is the assigned start time on the output clock, in seconds.
	Start float64

	// Duration is the buffer's play time in seconds.
	Duration float64

	// Lead is how far ahead of the clock the start lies. Zero means the
	// chunk plays immediately.
	Lead float64

	// Resynced reports that the cursor had fallen behind the clock and was
	// snapped to the present before scheduling.
	Resynced bool
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLogger sets the logger used for skipped chunks. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver registers cb to be invoked after every successful schedule.
// cb runs under the scheduler lock and must not block.
func WithObserver(cb func(Decision)) Option {
	return func(s *Scheduler) {
		s.observe = cb
	}
}

// Scheduler assigns gapless start times to inbound audio chunks.
//
// It owns the next-start cursor for one live session. For every chunk, under
// a single lock:
//
//	now    = output clock
//	cursor = max(cursor, now)
//	start  = cursor
//	cursor = cursor + chunk duration
//
// When the cursor has fallen behind the clock (everything scheduled finished
// playing before this chunk arrived) it resynchronizes to the present
// instead of scheduling into the past. When it is ahead (audio still
// queued), the chunk lands exactly where the queue ends: no gap, no overlap.
//
// A chunk that fails to decode is skipped: logged, reported to the caller,
// and the cursor keeps its last advanced value so the chunks after it are
// not shifted.
//
// A Scheduler is safe for concurrent use; the lock serializes chunks.
type Scheduler struct {
	out     Output
	dec     *audio.Decoder
	log     *slog.Logger
	observe func(Decision)

	mu     sync.Mutex
	cursor float64
}

// New creates a Scheduler for one session, decoding chunks declared in the
// wire format and scheduling them on out. The cursor starts at zero: the
// first chunk plays at the clock's present instant. Sessions never share a
// Scheduler; a reconnect constructs a fresh one.
func New(out Output, wire audio.Format, opts ...Option) (*Scheduler, error) {
	if out == nil {
		return nil, fmt.Errorf("playback: nil output")
	}
	dec, err := audio.NewDecoder(wire)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	s := &Scheduler{
		out: out,
		dec: dec,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Enqueue decodes one raw PCM16 chunk and schedules it to start exactly when
// the previously scheduled audio ends, or immediately when idle. It returns
// the assigned start time on the output clock.
func (s *Scheduler) Enqueue(raw []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.dec.Decode(raw)
	if err != nil {
		s.log.Warn("playback: skipping undecodable chunk",
			"bytes", len(raw),
			"error", err,
		)
		return 0, err
	}
	return s.scheduleLocked(buf), nil
}

// EnqueueBase64 decodes the transport representation of a chunk and
// schedules it. Base64 corruption is handled like any other decode failure:
// the chunk is skipped and the cursor is untouched.
func (s *Scheduler) EnqueueBase64(payload string) (float64, error) {
	raw, err := audio.DecodeBase64(payload)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.log.Warn("playback: skipping corrupt chunk payload", "error", err)
		return 0, err
	}
	return s.Enqueue(raw)
}

// Cursor returns the next-start position in seconds: where the chunk after
// this call would begin if it arrived before playback drains.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// scheduleLocked applies the cursor rule to one decoded buffer.
// Must be called with s.mu held.
func (s *Scheduler) scheduleLocked(buf *audio.Buffer) float64 {
	now := s.out.Now()
	resynced := false
	if s.cursor < now {
		s.cursor = now
		resynced = true
	}

	start := s.cursor
	s.out.ScheduleAt(buf, start)
	s.cursor += buf.Seconds()

	if s.observe != nil {
		s.observe(Decision{
			Start:    start,
			Duration: buf.Seconds(),
			Lead:     start - now,
			Resynced: resynced,
		})
	}
	return start
}
