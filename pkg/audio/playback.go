package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PlaybackDevice writes mono float32 PCM frames to an output device.
type PlaybackDevice struct {
	stream     *portaudio.Stream
	sampleRate float64
	frameSize  int
	buffer     []float32
	deviceName string // empty = default
	mu         sync.Mutex
	running    bool
}

// NewPlaybackDevice creates a new audio playback device.
// deviceName may be empty to use the system default.
func NewPlaybackDevice(sampleRate float64, frameSize int, deviceName ...string) (*PlaybackDevice, error) {
	WaitPreInit()

	dn := ""
	if len(deviceName) > 0 {
		dn = deviceName[0]
	}
	return &PlaybackDevice{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		buffer:     make([]float32, frameSize),
		deviceName: dn,
	}, nil
}

// Start acquires the output device and begins playback.
func (p *PlaybackDevice) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var defaultOutput *portaudio.DeviceInfo
	if p.deviceName != "" {
		defaultOutput = FindDevice(p.deviceName)
	}
	if defaultOutput == nil {
		var err error
		defaultOutput, err = portaudio.DefaultOutputDevice()
		if err != nil {
			return fmt.Errorf("audio: no output device: %w", err)
		}
	}

	params := portaudio.LowLatencyParameters(nil, defaultOutput)
	params.Output.Channels = 1
	params.Input.Device = nil
	params.Input.Channels = 0
	params.SampleRate = p.sampleRate
	params.FramesPerBuffer = p.frameSize

	stream, err := portaudio.OpenStream(params, p.buffer)
	if err != nil {
		return fmt.Errorf("audio: open playback stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("audio: start playback: %w", err)
	}

	p.stream = stream
	p.running = true
	slog.Debug("audio playback started", "device", defaultOutput.Name, "rate", p.sampleRate)
	return nil
}

// WriteFrame writes one frame of mono PCM to the output. Blocks until the
// device accepts the frame, which paces the caller at the device cadence.
func (p *PlaybackDevice) WriteFrame(frame []float32) error {
	if len(frame) != len(p.buffer) {
		return fmt.Errorf("audio: frame size mismatch: got %d, want %d", len(frame), len(p.buffer))
	}
	copy(p.buffer, frame)
	if err := p.stream.Write(); err != nil {
		return fmt.Errorf("audio: write frame: %w", err)
	}
	return nil
}

// Stop stops playback and releases the output stream. Idempotent and safe
// to call from any goroutine.
func (p *PlaybackDevice) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	if p.stream != nil {
		_ = p.stream.Stop()
		_ = p.stream.Close()
	}
	return nil
}
