// Package audio provides PCM encoding/decoding, microphone capture,
// gapless playback scheduling, and audio device management.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload is returned when a PCM byte payload cannot be
// interpreted with the declared sample layout.
var ErrMalformedPayload = errors.New("audio: malformed pcm payload")

// Buffer holds decoded floating-point samples ready for playback,
// one slice per channel.
type Buffer struct {
	ChannelData [][]float32
	SampleRate  int
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if len(b.ChannelData) == 0 {
		return 0
	}
	return len(b.ChannelData[0])
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// EncodePCM16 converts float samples in [-1, 1] to signed 16-bit
// little-endian PCM. Out-of-range samples are clamped, never rejected.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v)) //nolint:gosec // two's-complement reinterpretation
	}
	return out
}

// DecodePCM16 interprets data as interleaved signed 16-bit little-endian
// samples, de-interleaves it into channels, and normalizes to float32.
// Returns ErrMalformedPayload when the byte length is not a whole number
// of sample frames.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d", ErrMalformedPayload, sampleRate, channels)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPayload, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	chans := make([][]float32, channels)
	for c := range chans {
		chans[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := f*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(data[off:])) //nolint:gosec // two's-complement reinterpretation
			chans[c][f] = float32(v) / 32768
		}
	}

	return &Buffer{ChannelData: chans, SampleRate: sampleRate}, nil
}
