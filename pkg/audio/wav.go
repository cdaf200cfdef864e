package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // byte length of the data chunk
}

// EncodeWAV wraps little-endian PCM16 data in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("audio: encode wav: invalid format %s", format)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: encode wav: odd pcm length %d", len(pcm))
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.Channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("audio: encode wav: write header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// Recorder mixes PCM16 streams onto a single mono timeline for saving a
// conversation as one WAV file. Sources write at absolute offsets from
// stream start, so both sides of a live session land where they were heard:
// the microphone at its capture timestamps, the model at its playback start
// times. Overlapping writes are summed and clamped.
//
// A Recorder is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	format   Format
	conv     FormatConverter
	timeline []int16
}

// NewRecorder creates a Recorder mixing onto a mono timeline in the given
// format. Writes in other formats are converted on the way in.
func NewRecorder(format Format) (*Recorder, error) {
	if !format.Valid() || format.Channels != 1 {
		return nil, fmt.Errorf("audio: recorder needs a valid mono format, got %s", format)
	}
	return &Recorder{
		format: format,
		conv:   FormatConverter{Target: format},
	}, nil
}

// Write mixes one PCM16 chunk into the timeline starting at offset `at` from
// stream start. Misaligned data is dropped (the converter warns once).
func (r *Recorder) Write(at time.Duration, data []byte, format Format) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame := r.conv.Convert(Frame{Data: data, Format: format, Timestamp: at})
	if len(frame.Data) == 0 {
		return
	}

	off := r.format.SamplesIn(at)
	if off < 0 {
		off = 0
	}
	n := len(frame.Data) / 2
	if need := off + n; need > len(r.timeline) {
		grown := make([]int16, need)
		copy(grown, r.timeline)
		r.timeline = grown
	}

	for i := range n {
		s := int32(r.timeline[off+i]) + int32(int16(frame.Data[i*2])|int16(frame.Data[i*2+1])<<8)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		r.timeline[off+i] = int16(s)
	}
}

// Len returns the recorded length.
func (r *Recorder) Len() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Duration(len(r.timeline) * 2)
}

// WriteTo serializes the mixed timeline as a WAV file.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	pcm := make([]byte, len(r.timeline)*2)
	for i, s := range r.timeline {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	r.mu.Unlock()

	wav, err := EncodeWAV(pcm, r.format)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(wav)
	return int64(n), err
}

var _ io.WriterTo = (*Recorder)(nil)
