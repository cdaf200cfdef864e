// Package audio defines the PCM types, codec, and device interfaces for
// Parley's real-time voice pipeline.
//
// The building blocks, leaves first:
//
//   - the PCM codec ([FloatsToPCM16], [PCM16ToFloats] and the base64
//     transport helpers) converting between device samples and the wire
//     format
//   - [Decoder] and [Buffer], turning inbound chunks into playable audio
//   - [InputDevice] and [OutputDevice], the narrow hardware abstractions the
//     capture and playback layers drive
//
// Hardware implementations live in audio/miniaudio; deterministic in-memory
// versions for tests live in audio/mock.
//
// This package lives under pkg/ because alternative device backends are
// expected to implement [InputDevice] and [OutputDevice].
package audio

// InputDevice is a microphone capture device that pushes fixed-size frames
// of float samples on its own hardware-paced cadence.
//
// Implementations must be safe for concurrent use.
type InputDevice interface {
	// Start opens the device and begins delivering frames to onFrame. Every
	// frame is exactly the configured frame length, single channel, samples
	// in [-1, 1]. onFrame runs on the device's audio thread: it must return
	// quickly, must not block, and must not retain the slice after it
	// returns.
	//
	// Start fails when the device cannot be opened or recording permission
	// is denied. Starting an already started or stopped device is an error.
	Start(onFrame func(frame []float32)) error

	// Stop halts capture and releases the device. No onFrame invocation is
	// in flight once Stop returns. It is safe to call Stop more than once;
	// subsequent calls are no-ops and return nil.
	Stop() error
}

// OutputDevice plays buffers on a shared output timeline.
//
// The device exposes a monotonically increasing clock and plays each
// scheduled buffer starting exactly at its requested timeline position,
// rendering silence wherever nothing is scheduled.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Now returns the device clock position in seconds. The clock starts at
	// zero when the device opens and only moves forward.
	Now() float64

	// ScheduleAt enqueues buf to begin playing at start seconds on the
	// device clock. Buffers must be mono at the device's sample rate.
	// Callers are responsible for choosing non-overlapping start times; see
	// the playback package.
	ScheduleAt(buf *Buffer, start float64)

	// Close stops playback, discards anything still scheduled, and releases
	// the device. It is safe to call Close more than once.
	Close() error
}
