// Package playback schedules decoded audio buffers for gapless playback on
// an output timeline. [Scheduler] owns the next-start cursor that assigns
// each inbound chunk a start time; [Timeline] is the sample-accurate render
// queue that output devices drain from their audio callback.
package playback

// segment is one scheduled run of samples pinned to an absolute position on
// the output timeline. off tracks how many samples have been rendered.
type segment struct {
	start   int64 // absolute timeline position, in samples since device open
	samples []float32
	off     int
	seq     uint64 // monotonic insertion order for stable ordering of equal starts
}

// segmentHeap implements [container/heap.Interface] as a min-heap ordered by
// start position (ascending), with FIFO tie-breaking on seq (ascending).
type segmentHeap []*segment

func (h segmentHeap) Len() int { return len(h) }

// Less reports whether segment i should be rendered before segment j.
// Earlier start wins; equal starts fall back to insertion order.
func (h segmentHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h segmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *segmentHeap) Push(x any) {
	*h = append(*h, x.(*segment))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
