package audio

import (
	"math"
	"sync"
)

// Meter tracks a smoothed microphone level for UI display. Rising levels
// are followed immediately; falling levels decay gradually so the display
// does not flicker between frames.
type Meter struct {
	mu    sync.Mutex
	level float64
	decay float64
}

// NewMeter creates a level meter. decay is the per-frame falloff factor in
// (0, 1); higher values fall faster.
func NewMeter(decay float64) *Meter {
	if decay <= 0 || decay >= 1 {
		decay = 0.2
	}
	return &Meter{decay: decay}
}

// Process folds one captured frame into the meter and returns the updated
// level in [0, 1].
func (m *Meter) Process(frame []float32) float64 {
	rms := RMS(frame)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rms >= m.level {
		m.level = rms
	} else {
		m.level -= (m.level - rms) * m.decay
	}
	return m.level
}

// Level returns the current smoothed level without processing a frame.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Reset clears the meter to silence.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = 0
}

// RMS calculates the Root Mean Square of a float PCM frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
