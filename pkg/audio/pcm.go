package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// FloatsToPCM16 converts float samples to little-endian 16-bit PCM, the wire
// representation for live audio in both directions.
//
// Each sample is clamped to [-1, 1] and rounded to the nearest integer after
// scaling. Positive samples scale by 32767 and negative samples by 32768 so
// the full signed range is used symmetrically.
func FloatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloats converts little-endian 16-bit PCM back to float samples in
// [-1, 1], the inverse of [FloatsToPCM16] up to quantization error. It fails
// only on data that is not a whole number of samples.
func PCM16ToFloats(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm16 data has odd length %d", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out, nil
}

// EncodeBase64 returns the standard base64 encoding of data, the transport
// representation of a PCM chunk.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes the transport representation of a chunk back into raw
// bytes. Round-trip law: DecodeBase64(EncodeBase64(b)) == b for all b.
func DecodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return data, nil
}
