package playback

import (
	"container/heap"
	"math"
	"sync"

	"github.com/parley-ai/parley/pkg/audio"
)

// Timeline is a sample-accurate playback queue: a clock counting samples
// rendered since the device opened, plus scheduled segments pinned to
// absolute sample positions. The output device calls [Timeline.Render] from
// its audio callback to pull the next window of samples; any goroutine may
// schedule buffers and read the clock concurrently.
//
// Buffers must be produced at the timeline's sample rate; the device is
// opened at the session's inbound wire rate so no conversion happens here.
type Timeline struct {
	mu      sync.Mutex
	rate    int
	clock   int64 // samples rendered since open
	seq     uint64
	queue   segmentHeap
	scratch []*segment // reused by Render for segments spanning the window
}

// A Timeline can be driven by a [Scheduler] directly.
var _ Output = (*Timeline)(nil)

// NewTimeline creates a timeline rendering mono audio at the given sample rate.
func NewTimeline(rate int) *Timeline {
	t := &Timeline{rate: rate}
	heap.Init(&t.queue)
	return t
}

// Rate returns the render sample rate in Hz.
func (t *Timeline) Rate() int {
	return t.rate
}

// Now returns the clock position in seconds since the device opened.
// The clock only moves forward, driven by [Timeline.Render].
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.clock) / float64(t.rate)
}

// ScheduleAt pins buf to begin at start seconds on the clock. A start that
// already lies in the past snaps to the present, so a late buffer plays
// immediately and in full rather than being truncated; keeping starts out of
// the past is the scheduler's job, not the timeline's.
func (t *Timeline) ScheduleAt(buf *audio.Buffer, start float64) {
	if buf == nil || len(buf.Samples) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	at := int64(math.Round(start * float64(t.rate)))
	if at < t.clock {
		at = t.clock
	}
	t.seq++
	heap.Push(&t.queue, &segment{start: at, samples: buf.Samples, seq: t.seq})
}

// Render fills out with the scheduled audio overlapping the next len(out)
// samples and advances the clock past them. Positions with nothing scheduled
// are silence; overlapping segments sum. Runs on the device's audio thread:
// steady state allocates nothing and blocks only on the queue lock.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	end := t.clock + int64(len(out))
	parked := t.scratch[:0]

	for t.queue.Len() > 0 {
		seg := t.queue[0]

		// A segment that slipped behind the clock plays from its next
		// unrendered sample right now.
		if pos := seg.start + int64(seg.off); pos < t.clock {
			seg.start = t.clock - int64(seg.off)
		}

		pos := seg.start + int64(seg.off)
		if pos >= end {
			break
		}

		dst := int(pos - t.clock)
		n := len(seg.samples) - seg.off
		if space := int(end - pos); n > space {
			n = space
		}
		for k := range n {
			out[dst+k] += seg.samples[seg.off+k]
		}
		seg.off += n

		heap.Pop(&t.queue)
		if seg.off < len(seg.samples) {
			// Spans past this window; re-queued below so segments
			// overlapping it still get swept.
			parked = append(parked, seg)
		}
	}

	for _, seg := range parked {
		heap.Push(&t.queue, seg)
	}
	clear(parked)
	t.scratch = parked[:0]
	t.clock = end
}

// Pending returns the number of segments not yet fully rendered.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

// Clear discards everything still scheduled without touching the clock.
// Used on teardown so a closing device goes silent immediately.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = nil
}
