package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// FrameSink receives one captured frame per callback tick. The frame slice
// is owned by the sink. Sinks must not block: the capture pump runs on the
// realtime audio path, and a slow sink stalls the device.
type FrameSink func(frame []float32)

// CaptureDevice pulls fixed-size float PCM frames from an input device and
// hands each one to a sink.
type CaptureDevice struct {
	stream     *portaudio.Stream
	sampleRate float64
	frameSize  int
	buffer     []float32
	deviceName string // empty = default

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

// NewCaptureDevice creates a new audio capture device.
// frameSize is the number of samples per frame (e.g. 2048 for ~128ms at
// 16kHz). deviceName may be empty to use the system default.
func NewCaptureDevice(sampleRate float64, frameSize int, deviceName ...string) (*CaptureDevice, error) {
	// Wait for the background PreInitAudio to finish (blocks until ready)
	WaitPreInit()

	dn := ""
	if len(deviceName) > 0 {
		dn = deviceName[0]
	}
	return &CaptureDevice{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		buffer:     make([]float32, frameSize),
		deviceName: dn,
	}, nil
}

// Start acquires the input device and begins pumping frames to sink.
// Each frame is a fresh copy; the pump stops on Stop or on a read error.
func (c *CaptureDevice) Start(sink FrameSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("audio: capture already running")
	}

	var defaultInput *portaudio.DeviceInfo
	if c.deviceName != "" {
		defaultInput = FindDevice(c.deviceName)
	}
	if defaultInput == nil {
		var err error
		defaultInput, err = portaudio.DefaultInputDevice()
		if err != nil {
			return fmt.Errorf("audio: no input device: %w", err)
		}
	}

	params := portaudio.LowLatencyParameters(defaultInput, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = c.sampleRate
	params.FramesPerBuffer = c.frameSize

	stream, err := portaudio.OpenStream(params, c.buffer)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("audio: start capture: %w", err)
	}

	c.stream = stream
	c.running = true
	c.done = make(chan struct{})
	c.exited = make(chan struct{})
	go c.pump(stream, sink, c.done, c.exited)

	slog.Debug("audio capture started", "device", defaultInput.Name, "rate", c.sampleRate, "frame", c.frameSize)
	return nil
}

// pump blocks on the device read cadence and forwards frames to sink.
func (c *CaptureDevice) pump(stream *portaudio.Stream, sink FrameSink, done, exited chan struct{}) {
	defer close(exited)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-done:
				// Stopped; read errors during teardown are expected.
			default:
				slog.Debug("capture read error", "err", err)
			}
			return
		}

		frame := make([]float32, len(c.buffer))
		copy(frame, c.buffer)
		sink(frame)
	}
}

// Stop stops capture and releases the input stream. Idempotent and safe to
// call from any goroutine, including while a read is in flight. It returns
// only after the pump goroutine has exited, so no frame reaches the sink
// after Stop.
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	close(c.done)

	if c.stream != nil {
		// Aborting the stream unblocks a read in flight.
		_ = c.stream.Stop()
	}
	<-c.exited
	if c.stream != nil {
		_ = c.stream.Close()
	}
	return nil
}

// Close releases all audio resources held by the device.
func (c *CaptureDevice) Close() error {
	return c.Stop()
}
