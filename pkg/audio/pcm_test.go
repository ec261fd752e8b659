package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
)

func TestEncodePCM16Clamps(t *testing.T) {
	t.Parallel()

	got := audio.EncodePCM16([]float32{0, 1, -1, 2, -2})
	want := []byte{
		0x00, 0x00, // 0
		0xff, 0x7f, // 1 -> 32767
		0x01, 0x80, // -1 -> -32767
		0xff, 0x7f, // 2 clamps to 1
		0x01, 0x80, // -2 clamps to -1
	}
	if len(got) != len(want) {
		t.Fatalf("encoded %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.5, 0.99, -0.99, 0.001}
	buf, err := audio.DecodePCM16(audio.EncodePCM16(in), 24000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Frames() != len(in) {
		t.Fatalf("decoded %d frames, want %d", buf.Frames(), len(in))
	}
	for i, want := range in {
		got := buf.ChannelData[0][i]
		if math.Abs(float64(got-want)) > 1.0/16384 {
			t.Errorf("sample %d = %v, want %v within quantization error", i, got, want)
		}
	}
}

func TestDecodePCM16Stereo(t *testing.T) {
	t.Parallel()

	// Two interleaved frames: (0.5, -0.5) then (0, 0.5).
	data := []byte{
		0x00, 0x40, 0x00, 0xc0,
		0x00, 0x00, 0x00, 0x40,
	}
	buf, err := audio.DecodePCM16(data, 24000, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("got %d frames, want 2", buf.Frames())
	}
	want := [][]float32{{0.5, 0}, {-0.5, 0.5}}
	if diff := cmp.Diff(want, buf.ChannelData); diff != "" {
		t.Errorf("de-interleaved channels mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePCM16Malformed(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		data     []byte
		rate     int
		channels int
	}{
		"odd_length":          {data: []byte{1, 2, 3}, rate: 24000, channels: 1},
		"partial_frame":       {data: make([]byte, 6), rate: 24000, channels: 2},
		"zero_rate":           {data: make([]byte, 4), rate: 0, channels: 1},
		"zero_channels":       {data: make([]byte, 4), rate: 24000, channels: 0},
		"negative_channels":   {data: make([]byte, 4), rate: 24000, channels: -1},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			_, err := audio.DecodePCM16(tc.data, tc.rate, tc.channels)
			if !errors.Is(err, audio.ErrMalformedPayload) {
				t.Errorf("got %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	t.Parallel()

	buf := &audio.Buffer{
		ChannelData: [][]float32{make([]float32, 12000)},
		SampleRate:  24000,
	}
	if got := buf.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}

	empty := &audio.Buffer{SampleRate: 24000}
	if got := empty.Duration(); got != 0 {
		t.Errorf("empty Duration = %v, want 0", got)
	}
}
