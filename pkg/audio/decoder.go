package audio

import (
	"fmt"
	"time"
)

// Buffer is a decoded, playable audio buffer. Samples are mono floats in
// [-1, 1] at Rate; stereo input is downmixed during decode.
//
// A Buffer is owned by the playback layer from decode until it finishes
// playing and must not be mutated after scheduling.
type Buffer struct {
	Samples []float32
	Rate    int
}

// Duration returns the play time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.Rate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.Rate)
}

// Seconds returns the play time of the buffer in clock seconds, the unit the
// output timeline runs on.
func (b *Buffer) Seconds() float64 {
	if b.Rate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.Rate)
}

// Decoder turns inbound PCM16 chunks into playable Buffers at a declared
// wire format. A Decoder is stateless beyond its format and safe for
// concurrent use.
type Decoder struct {
	format Format
}

// NewDecoder creates a Decoder for chunks declared in the given format.
func NewDecoder(format Format) (*Decoder, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("audio: invalid decoder format %s", format)
	}
	return &Decoder{format: format}, nil
}

// Format returns the declared wire format.
func (d *Decoder) Format() Format {
	return d.format
}

// Decode converts one raw little-endian PCM16 chunk into a playable Buffer.
// Stereo chunks are downmixed to mono. Decode fails on empty input and on
// data that is not a whole number of sample frames; a failed chunk produces
// no buffer and no side effects.
func (d *Decoder) Decode(raw []byte) (*Buffer, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("audio: decode: empty chunk")
	}
	if len(raw)%(2*d.format.Channels) != 0 {
		return nil, fmt.Errorf("audio: decode: %d bytes is not whole %s frames", len(raw), d.format)
	}
	pcm := raw
	if d.format.Channels == 2 {
		pcm = StereoToMono(raw)
	}
	samples, err := PCM16ToFloats(pcm)
	if err != nil {
		return nil, fmt.Errorf("audio: decode: %w", err)
	}
	return &Buffer{Samples: samples, Rate: d.format.SampleRate}, nil
}

// DecodeBase64 decodes the transport representation of a chunk and then
// decodes the PCM. Base64 corruption is reported the same way as malformed
// PCM: an error, no buffer, no side effects.
func (d *Decoder) DecodeBase64(payload string) (*Buffer, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode: %w", err)
	}
	return d.Decode(raw)
}
