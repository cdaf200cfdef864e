package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM16 stream.
// The zero value is not a valid format.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether the format is usable: a positive sample rate and a
// mono or stereo channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the play time of n bytes of PCM16 data in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// SamplesIn returns the per-channel sample count spanning d.
func (f Format) SamplesIn(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d * time.Duration(f.SampleRate) / time.Second)
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Frame is a single frame of encoded audio flowing through the pipeline:
// one capture callback's worth of PCM16 data together with its format.
type Frame struct {
	// Data is little-endian PCM16 audio.
	Data []byte

	// Format describes the sample rate and channel count of Data.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Data))
}
