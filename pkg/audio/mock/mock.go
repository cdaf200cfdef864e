// Package mock provides in-memory mock implementations of the
// [audio.InputDevice] and [audio.OutputDevice] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	out := &mock.OutputDevice{}
//	sched, _ := playback.New(out, audio.Format{SampleRate: 24000, Channels: 1})
//	start, _ := sched.Enqueue(chunk)
//	out.Advance(1.5) // let 1.5s of playback elapse
package mock

import (
	"sync"

	"github.com/parley-ai/parley/pkg/audio"
)

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// Compile-time interface assertions.
var (
	_ audio.OutputDevice = (*OutputDevice)(nil)
	_ audio.InputDevice  = (*InputDevice)(nil)
)

// ScheduledBuffer records one ScheduleAt call.
type ScheduledBuffer struct {
	// Start is the requested start time in clock seconds.
	Start float64

	// Seconds is the buffer's play time.
	Seconds float64

	// Buffer is the scheduled buffer itself.
	Buffer *audio.Buffer
}

// OutputDevice is a mock implementation of [audio.OutputDevice] driven by a
// manual clock. The clock starts at zero and moves only when the test calls
// [OutputDevice.Advance], which makes stall and resync scenarios exact.
type OutputDevice struct {
	mu sync.Mutex

	// CloseError is returned by [OutputDevice.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	clock     float64
	scheduled []ScheduledBuffer
}

// Now implements [audio.OutputDevice]. It returns the manual clock.
func (d *OutputDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// ScheduleAt implements [audio.OutputDevice]. The call is recorded; nothing
// is rendered.
func (d *OutputDevice) ScheduleAt(buf *audio.Buffer, start float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, ScheduledBuffer{
		Start:   start,
		Seconds: buf.Seconds(),
		Buffer:  buf,
	})
}

// Close implements [audio.OutputDevice]. Returns CloseError.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseError
}

// Advance moves the manual clock forward by seconds.
func (d *OutputDevice) Advance(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock += seconds
}

// Scheduled returns a copy of every recorded ScheduleAt call, in order.
func (d *OutputDevice) Scheduled() []ScheduledBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ScheduledBuffer, len(d.scheduled))
	copy(out, d.scheduled)
	return out
}

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice]. Tests deliver
// frames to the callback registered via Start by calling
// [InputDevice.EmitFrame].
type InputDevice struct {
	mu sync.Mutex

	// StartError is returned by [InputDevice.Start]. When non-nil, the
	// callback is not registered; the device behaves like hardware that
	// failed to open (e.g. permission denied).
	StartError error

	// StopError is returned by [InputDevice.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	onFrame func([]float32)
}

// Start implements [audio.InputDevice]. Returns StartError; on success the
// callback is registered for [InputDevice.EmitFrame].
func (d *InputDevice) Start(onFrame func(frame []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.onFrame = onFrame
	return nil
}

// Stop implements [audio.InputDevice]. It deregisters the callback, so
// subsequent EmitFrame calls are dropped. Returns StopError.
func (d *InputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.onFrame = nil
	return d.StopError
}

// Started reports whether a frame callback is currently registered.
func (d *InputDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onFrame != nil
}

// EmitFrame delivers samples to the registered callback, simulating one
// hardware capture callback. It is a no-op when the device is stopped.
func (d *InputDevice) EmitFrame(samples []float32) {
	d.mu.Lock()
	cb := d.onFrame
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}
