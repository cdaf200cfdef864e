package playback_test

import (
	"math"
	"testing"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/mock"
	"github.com/parley-ai/parley/pkg/audio/playback"
)

var wireFormat = audio.Format{SampleRate: 24000, Channels: 1}

// pcmChunk returns raw little-endian PCM16 silence covering the given play
// time at the wire rate.
func pcmChunk(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(math.Round(seconds * float64(wireFormat.SampleRate)))
	return audio.FloatsToPCM16(make([]float32, n))
}

func TestNew_Validation(t *testing.T) {
	if _, err := playback.New(nil, wireFormat); err == nil {
		t.Error("New(nil, ...) did not return an error")
	}
	if _, err := playback.New(&mock.OutputDevice{}, audio.Format{}); err == nil {
		t.Error("New with zero wire format did not return an error")
	}
}

func TestScheduler_GaplessBackToBack(t *testing.T) {
	out := &mock.OutputDevice{}
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	// Three chunks of 1.0s, 0.5s and 2.0s arrive while nothing has played
	// yet. Each must start exactly where the previous one ends.
	durations := []float64{1.0, 0.5, 2.0}
	wantStarts := []float64{0.0, 1.0, 1.5}
	for i, d := range durations {
		start, err := sched.Enqueue(pcmChunk(t, d))
		if err != nil {
			t.Fatalf("Enqueue(chunk %d) returned an error: %v", i, err)
		}
		if start != wantStarts[i] {
			t.Errorf("chunk %d scheduled at %v, want %v", i, start, wantStarts[i])
		}
	}

	if got, want := sched.Cursor(), 3.5; got != want {
		t.Errorf("Cursor() = %v, want %v", got, want)
	}

	scheduled := out.Scheduled()
	if len(scheduled) != len(durations) {
		t.Fatalf("device received %d buffers, want %d", len(scheduled), len(durations))
	}
	for i, s := range scheduled {
		if s.Start != wantStarts[i] {
			t.Errorf("device buffer %d starts at %v, want %v", i, s.Start, wantStarts[i])
		}
		if s.Seconds != durations[i] {
			t.Errorf("device buffer %d plays for %vs, want %vs", i, s.Seconds, durations[i])
		}
	}
}

func TestScheduler_ResyncAfterStall(t *testing.T) {
	out := &mock.OutputDevice{}
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	if start, _ := sched.Enqueue(pcmChunk(t, 1.0)); start != 0.0 {
		t.Fatalf("first chunk scheduled at %v, want 0", start)
	}

	// The model stalls: the first chunk finishes at 1.0 and the clock runs
	// on to 6.0 before the next chunk arrives. It must play immediately,
	// not at the stale cursor.
	out.Advance(6.0)
	start, err := sched.Enqueue(pcmChunk(t, 1.0))
	if err != nil {
		t.Fatalf("Enqueue after stall returned an error: %v", err)
	}
	if start != 6.0 {
		t.Errorf("chunk after stall scheduled at %v, want 6.0", start)
	}
	if got, want := sched.Cursor(), 7.0; got != want {
		t.Errorf("Cursor() = %v, want %v", got, want)
	}
}

func TestScheduler_NeverSchedulesInPast(t *testing.T) {
	out := &mock.OutputDevice{}
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	// Interleave arrivals with uneven clock progress, including bursts that
	// outrun the clock and stalls that outrun the cursor.
	advances := []float64{0, 0.3, 0, 2.5, 0.1, 4.0, 0}
	for i, adv := range advances {
		out.Advance(adv)
		now := out.Now()
		start, err := sched.Enqueue(pcmChunk(t, 0.5))
		if err != nil {
			t.Fatalf("Enqueue(chunk %d) returned an error: %v", i, err)
		}
		if start < now {
			t.Errorf("chunk %d scheduled at %v with clock at %v", i, start, now)
		}
	}
}

func TestScheduler_DecodeFailureSkipsChunk(t *testing.T) {
	out := &mock.OutputDevice{}
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	if _, err := sched.Enqueue(pcmChunk(t, 1.0)); err != nil {
		t.Fatalf("Enqueue returned an error: %v", err)
	}

	// A truncated chunk with an odd byte count cannot be decoded. It must be
	// skipped without moving the cursor or reaching the device.
	if _, err := sched.Enqueue([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("Enqueue(malformed chunk) did not return an error")
	}
	if got, want := sched.Cursor(), 1.0; got != want {
		t.Errorf("Cursor() after skipped chunk = %v, want %v", got, want)
	}

	// The stream continues seamlessly with the next good chunk.
	start, err := sched.Enqueue(pcmChunk(t, 0.5))
	if err != nil {
		t.Fatalf("Enqueue after skipped chunk returned an error: %v", err)
	}
	if start != 1.0 {
		t.Errorf("chunk after skip scheduled at %v, want 1.0", start)
	}

	if got := out.Scheduled(); len(got) != 2 {
		t.Errorf("device received %d buffers, want 2", len(got))
	}
}

func TestScheduler_EnqueueBase64(t *testing.T) {
	out := &mock.OutputDevice{}
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	start, err := sched.EnqueueBase64(audio.EncodeBase64(pcmChunk(t, 0.5)))
	if err != nil {
		t.Fatalf("EnqueueBase64 returned an error: %v", err)
	}
	if start != 0.0 {
		t.Errorf("chunk scheduled at %v, want 0", start)
	}

	if _, err := sched.EnqueueBase64("this is not base64!"); err == nil {
		t.Error("EnqueueBase64(corrupt payload) did not return an error")
	}
	if got, want := sched.Cursor(), 0.5; got != want {
		t.Errorf("Cursor() after corrupt payload = %v, want %v", got, want)
	}
	if got := out.Scheduled(); len(got) != 1 {
		t.Errorf("device received %d buffers, want 1", len(got))
	}
}

func TestScheduler_ObserverDecisions(t *testing.T) {
	out := &mock.OutputDevice{}
	var decisions []playback.Decision
	sched, err := playback.New(out, wireFormat, playback.WithObserver(func(d playback.Decision) {
		decisions = append(decisions, d)
	}))
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	sched.Enqueue(pcmChunk(t, 1.0)) // scheduled at 0.0, no resync
	out.Advance(0.25)
	sched.Enqueue(pcmChunk(t, 0.5)) // scheduled at 1.0, lead 0.75
	out.Advance(5.0)
	sched.Enqueue(pcmChunk(t, 1.0)) // clock at 5.25, cursor resyncs

	want := []playback.Decision{
		{Start: 0.0, Duration: 1.0, Lead: 0.0, Resynced: false},
		{Start: 1.0, Duration: 0.5, Lead: 0.75, Resynced: false},
		{Start: 5.25, Duration: 1.0, Lead: 0.0, Resynced: true},
	}
	if len(decisions) != len(want) {
		t.Fatalf("observer saw %d decisions, want %d", len(decisions), len(want))
	}
	for i, d := range decisions {
		if d != want[i] {
			t.Errorf("decision %d = %+v, want %+v", i, d, want[i])
		}
	}
}

func TestScheduler_FreshCursorResyncsToClock(t *testing.T) {
	out := &mock.OutputDevice{}
	out.Advance(6.0)

	// A scheduler built mid-stream (e.g. after a reconnect) starts with a
	// zero cursor and must pick up the device clock on the first chunk.
	sched, err := playback.New(out, wireFormat)
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}
	start, err := sched.Enqueue(pcmChunk(t, 1.0))
	if err != nil {
		t.Fatalf("Enqueue returned an error: %v", err)
	}
	if start != 6.0 {
		t.Errorf("first chunk scheduled at %v, want 6.0", start)
	}
}
