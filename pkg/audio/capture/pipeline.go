// Package capture turns microphone callbacks into fixed-size PCM16 frames
// on a bounded queue. [Pipeline.HandleFrame] is registered as an
// [audio.InputDevice] callback; consumers range over [Pipeline.Frames].
//
// The pipeline never blocks the device callback. When the consumer falls
// behind and the queue is full, whole frames are dropped and counted; live
// speech is only worth sending while it is fresh.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

const (
	// DefaultFrameSize is the number of samples per emitted frame, roughly
	// 256ms at 16kHz. Small enough for responsive turn detection, large
	// enough to keep message overhead down.
	DefaultFrameSize = 4096

	// DefaultQueueDepth is the default capacity of the frame queue.
	DefaultQueueDepth = 16

	minFrameSize = 1024
	maxFrameSize = 16384
)

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithFrameSize sets the number of samples per emitted frame.
// Must lie within [1024, 16384].
func WithFrameSize(samples int) Option {
	return func(p *Pipeline) {
		p.frameSize = samples
	}
}

// WithQueueDepth sets the capacity of the frame queue in frames.
func WithQueueDepth(frames int) Option {
	return func(p *Pipeline) {
		p.depth = frames
	}
}

// WithLogger sets the logger used for drop warnings. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline accumulates captured samples into fixed-size frames, encodes them
// as little-endian PCM16 and queues them for a consumer.
//
// HandleFrame is driven by the device's capture callback and must not be
// called concurrently with itself or with Close. Stopping the input device
// before Close satisfies both: a stopped device delivers no more callbacks.
type Pipeline struct {
	format    audio.Format
	frameSize int
	depth     int
	log       *slog.Logger

	frames chan audio.Frame

	// Owned by the capture callback.
	pending []float32
	fill    int
	elapsed time.Duration

	captured atomic.Uint64
	dropped  atomic.Uint64
	dropWarn sync.Once

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Pipeline emitting frames in the given format. The format is
// the one the device captures in; the pipeline does no conversion.
func New(format audio.Format, opts ...Option) (*Pipeline, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("capture: invalid format %s", format)
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("capture: %s: only mono capture is supported", format)
	}

	p := &Pipeline{
		format:    format,
		frameSize: DefaultFrameSize,
		depth:     DefaultQueueDepth,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	if p.frameSize < minFrameSize || p.frameSize > maxFrameSize {
		return nil, fmt.Errorf("capture: frame size %d out of range [%d, %d]", p.frameSize, minFrameSize, maxFrameSize)
	}
	if p.depth < 1 {
		return nil, fmt.Errorf("capture: queue depth %d must be at least 1", p.depth)
	}

	p.frames = make(chan audio.Frame, p.depth)
	p.pending = make([]float32, p.frameSize)
	return p, nil
}

// Format returns the capture format frames are emitted in.
func (p *Pipeline) Format() audio.Format {
	return p.format
}

// Frames returns the queue of encoded frames. It is closed by [Pipeline.Close].
func (p *Pipeline) Frames() <-chan audio.Frame {
	return p.frames
}

// HandleFrame consumes one capture callback worth of samples, emitting a
// frame each time a full frame's worth has accumulated. Callback sizes do
// not need to match the frame size.
//
// It never blocks: when the queue is full the frame is dropped and counted.
func (p *Pipeline) HandleFrame(samples []float32) {
	if p.closed.Load() {
		return
	}
	for len(samples) > 0 {
		n := copy(p.pending[p.fill:], samples)
		p.fill += n
		samples = samples[n:]
		if p.fill < p.frameSize {
			return
		}
		p.emit()
		p.fill = 0
	}
}

// emit encodes the pending frame and queues it. Stream time advances whether
// or not the frame fits in the queue; a drop loses data, not time.
func (p *Pipeline) emit() {
	frame := audio.Frame{
		Data:      audio.FloatsToPCM16(p.pending),
		Format:    p.format,
		Timestamp: p.elapsed,
	}
	p.elapsed += frame.Duration()

	select {
	case p.frames <- frame:
		p.captured.Add(1)
	default:
		p.dropped.Add(1)
		p.dropWarn.Do(func() {
			p.log.Warn("capture: frame queue full, dropping frames",
				"depth", p.depth,
			)
		})
	}
}

// Captured returns the number of frames queued so far.
func (p *Pipeline) Captured() uint64 {
	return p.captured.Load()
}

// Dropped returns the number of frames discarded because the queue was full.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Close closes the frame queue. Any partially accumulated tail is discarded;
// frames already queued remain readable until drained. Close is idempotent
// and must only be called after the input device has stopped.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.frames)
	})
	return nil
}
