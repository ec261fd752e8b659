package audio_test

import (
	"math"
	"testing"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 0.5
	}
	if got := audio.RMS(frame); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RMS of constant 0.5 = %v, want 0.5", got)
	}
}

func TestMeterRisesInstantlyDecaysGradually(t *testing.T) {
	t.Parallel()

	loud := make([]float32, 480)
	for i := range loud {
		loud[i] = 0.8
	}
	quiet := make([]float32, 480)

	m := audio.NewMeter(0.2)
	if got := m.Process(loud); math.Abs(got-0.8) > 1e-6 {
		t.Fatalf("level after loud frame = %v, want 0.8", got)
	}

	// On silence the level falls but does not snap to zero.
	after := m.Process(quiet)
	if after >= 0.8 || after <= 0 {
		t.Fatalf("level after one quiet frame = %v, want between 0 and 0.8", after)
	}
	for i := 0; i < 200; i++ {
		m.Process(quiet)
	}
	if got := m.Level(); got > 1e-6 {
		t.Errorf("level after sustained silence = %v, want near 0", got)
	}

	m.Process(loud)
	m.Reset()
	if got := m.Level(); got != 0 {
		t.Errorf("level after reset = %v, want 0", got)
	}
}

func TestMeterInvalidDecayFallsBack(t *testing.T) {
	t.Parallel()

	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 0.4
	}
	m := audio.NewMeter(7)
	if got := m.Process(frame); math.Abs(got-0.4) > 1e-6 {
		t.Errorf("level = %v, want 0.4", got)
	}
}
