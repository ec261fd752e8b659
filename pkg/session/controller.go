package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
	"github.com/nutrivoice/nutrivoice/pkg/live"
	"github.com/nutrivoice/nutrivoice/pkg/observe"
)

const (
	// captureFrameSize trades latency against per-callback overhead:
	// 2048 samples is ~128ms at 16kHz.
	captureSampleRate = live.InputSampleRate
	captureFrameSize  = 2048

	// playbackFrameSize is 20ms at 24kHz.
	playbackFrameSize = 480
)

// Config holds everything a session needs to connect.
type Config struct {
	APIKey       string // access credential for the remote endpoint
	Model        string // empty = live.DefaultModel
	Voice        string // prebuilt voice name
	Instructions string // persona system instruction
	InputDevice  string // capture device name, empty = system default
	OutputDevice string // playback device name, empty = system default
}

// CaptureEngine is the controller's view of the microphone.
type CaptureEngine interface {
	Start(sink audio.FrameSink) error
	Stop() error
}

// PlaybackLine is the controller's view of the output device: the
// scheduler's clock and player plus teardown.
type PlaybackLine interface {
	audio.Clock
	audio.Player
	Close() error
}

// Transport is the controller's view of the open live channel.
type Transport interface {
	Send(pcm []byte)
	Close() error
}

// deps are the acquisition functions for the three resource kinds.
// Production defaults use PortAudio and the live client; tests substitute
// fakes.
type deps struct {
	openCapture  func(cfg Config) (CaptureEngine, error)
	openPlayback func(cfg Config) (PlaybackLine, error)
	dial         func(ctx context.Context, cfg Config, cb live.Callbacks) (Transport, error)
}

// pipeline holds every handle acquired for one connect generation. The
// controller owns it exclusively; teardown releases whatever subset was
// acquired before the failure or disconnect.
type pipeline struct {
	capture CaptureEngine
	line    PlaybackLine
	sched   *audio.Scheduler

	// transport is set after dial returns; the send path reads it
	// lock-free from the capture goroutine.
	transport atomic.Value // Transport

	// ready flips when the remote acknowledges setup. Frames captured
	// before that are dropped, never queued.
	ready atomic.Bool

	// counted tracks whether this pipeline incremented the active
	// sessions gauge, so teardown after a failed connect does not
	// decrement it.
	counted atomic.Bool

	// closed flips at the start of teardown. A capture frame still in
	// flight through the sink must not report a level or reach the
	// transport once the pipeline is dead.
	closed atomic.Bool
}

func (p *pipeline) loadTransport() Transport {
	if v := p.transport.Load(); v != nil {
		return v.(Transport)
	}
	return nil
}

// Controller owns one voice session at a time: the capture device, the
// output line, the transport handle, and the playback scheduler's active
// set. Nothing outside the controller mutates these. All exported methods
// are safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	status Status
	isErr  bool
	gen    uint64 // bumped on every connect and teardown; stale events no-op
	pipe   *pipeline

	cfg     Config
	deps    deps
	meter   *audio.Meter
	metrics *observe.Metrics

	// OnStatusChange is invoked outside the controller's lock on every
	// status transition. It may be called from capture, transport, or
	// playback goroutines.
	OnStatusChange func(Status)

	// OnLevel receives the smoothed mic level per captured frame. Called
	// on the capture goroutine; implementations must not block.
	OnLevel func(float64)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics attaches observability instruments to the controller.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller in the Disconnected state.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		status: StatusDisconnected,
		cfg:    cfg,
		deps:   defaultDeps(),
		meter:  audio.NewMeter(0.2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func defaultDeps() deps {
	return deps{
		openCapture: func(cfg Config) (CaptureEngine, error) {
			return audio.NewCaptureDevice(captureSampleRate, captureFrameSize, cfg.InputDevice)
		},
		openPlayback: func(cfg Config) (PlaybackLine, error) {
			dev, err := audio.NewPlaybackDevice(live.OutputSampleRate, playbackFrameSize, cfg.OutputDevice)
			if err != nil {
				return nil, err
			}
			if err := dev.Start(); err != nil {
				return nil, err
			}
			tl := audio.NewTimeline(dev, live.OutputSampleRate, playbackFrameSize)
			tl.Start()
			return &deviceLine{Timeline: tl, dev: dev}, nil
		},
		dial: func(ctx context.Context, cfg Config, cb live.Callbacks) (Transport, error) {
			client := live.NewClient(cfg.APIKey)
			return client.Connect(ctx, live.SessionConfig{
				Model:        cfg.Model,
				Voice:        cfg.Voice,
				Instructions: cfg.Instructions,
			}, cb)
		},
	}
}

// deviceLine couples a timeline to the playback device it feeds.
type deviceLine struct {
	*audio.Timeline
	dev *audio.PlaybackDevice
}

func (l *deviceLine) Close() error {
	err := l.Timeline.Close()
	_ = l.dev.Stop()
	return err
}

// SetConfig replaces the session configuration. It only affects future
// connects; the running session keeps the config it started with.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Status returns the current session status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsError reports whether the last connect or session ended in error.
// Cleared on the next Connect.
func (c *Controller) IsError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isErr
}

// Connect acquires the audio devices, opens the live transport, and moves
// the session to Connected once the remote acknowledges setup. On any
// failure every partially acquired resource is released and the state
// machine lands back on Disconnected with the error flag set.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("session: connect from %s", c.status)
	}
	c.gen++
	gen := c.gen
	cfg := c.cfg
	c.isErr = false
	c.status = StatusConnecting
	c.pipe = &pipeline{}
	c.mu.Unlock()
	c.notify(StatusConnecting)

	if cfg.APIKey == "" {
		return c.fail(gen, ErrMissingCredentials)
	}

	capture, err := c.deps.openCapture(cfg)
	if err != nil {
		return c.fail(gen, errors.Join(ErrDeviceAcquisition, err))
	}
	if !c.commit(gen, func(p *pipeline) { p.capture = capture }) {
		_ = capture.Stop()
		return errDisconnectedDuringConnect
	}

	line, err := c.deps.openPlayback(cfg)
	if err != nil {
		return c.fail(gen, errors.Join(ErrDeviceAcquisition, err))
	}
	if !c.commit(gen, func(p *pipeline) { p.line = line }) {
		_ = line.Close()
		return errDisconnectedDuringConnect
	}

	sched := audio.NewScheduler(line, line, audio.SchedulerEvents{
		OnBuffering: func() { c.applyPlaybackStatus(gen, StatusBuffering) },
		OnSpeaking:  func() { c.applyPlaybackStatus(gen, StatusSpeaking) },
		OnDrained:   func() { c.applyPlaybackStatus(gen, StatusConnected) },
	})
	if !c.commit(gen, func(p *pipeline) { p.sched = sched }) {
		return errDisconnectedDuringConnect
	}
	p := c.pipeline(gen)
	if p == nil {
		return errDisconnectedDuringConnect
	}

	// Capture starts now so acquisition failures surface at connect time;
	// frames are dropped until the channel is open.
	if err := capture.Start(func(frame []float32) { c.pumpFrame(p, frame) }); err != nil {
		return c.fail(gen, errors.Join(ErrDeviceAcquisition, err))
	}

	transport, err := c.deps.dial(ctx, cfg, live.Callbacks{
		OnOpen:        func() { c.handleOpen(gen, p) },
		OnAudio:       func(pcm []byte) { c.handleAudio(gen, p, pcm) },
		OnInterrupted: func() { c.handleInterrupted(gen, p) },
		OnClosed:      func() { c.handleRemoteClosed(gen) },
		OnError:       func(err error) { c.handleTransportError(gen, err) },
	})
	if err != nil {
		return c.fail(gen, errors.Join(ErrTransportOpen, err))
	}
	p.transport.Store(transport)
	if !c.commit(gen, func(*pipeline) {}) {
		_ = transport.Close()
		return errDisconnectedDuringConnect
	}

	if c.metrics != nil {
		c.metrics.ActiveSessions.Add(context.Background(), 1)
		p.counted.Store(true)
	}
	slog.Info("session connecting", "model", cfg.Model, "voice", cfg.Voice)
	return nil
}

// errDisconnectedDuringConnect is returned when Disconnect raced a
// Connect in flight; the disconnect already released everything.
var errDisconnectedDuringConnect = errors.New("session: disconnected during connect")

// Disconnect tears the session down completely. Safe to call multiple
// times and from any state, including before anything was acquired.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.teardown(gen)
}

// Reset is disconnect followed by connect; it carries no additional
// semantics of its own.
func (c *Controller) Reset(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// ── internal ──────────────────────────────────────────────────────────────────

// commit runs assign on the current pipeline iff gen is still the live
// generation. Returns false when a disconnect invalidated the attempt, in
// which case the caller must release the resource it was about to commit.
func (c *Controller) commit(gen uint64, assign func(p *pipeline)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.pipe == nil {
		return false
	}
	assign(c.pipe)
	return true
}

func (c *Controller) pipeline(gen uint64) *pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	return c.pipe
}

// pumpFrame runs on the capture goroutine for every mic frame. It must
// never block: encoding is CPU-only and Transport.Send is fire-and-forget.
func (c *Controller) pumpFrame(p *pipeline, frame []float32) {
	if p.closed.Load() {
		return
	}
	level := c.meter.Process(frame)
	if c.OnLevel != nil {
		c.OnLevel(level)
	}

	if !p.ready.Load() {
		return
	}
	transport := p.loadTransport()
	if transport == nil {
		return
	}
	transport.Send(audio.EncodePCM16(frame))
	if c.metrics != nil {
		c.metrics.FramesSent.Add(context.Background(), 1)
	}
}

func (c *Controller) handleOpen(gen uint64, p *pipeline) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnected
	c.mu.Unlock()

	p.ready.Store(true)
	slog.Info("live channel open")
	c.notify(StatusConnected)
}

// handleAudio decodes one inbound speech chunk and hands it to the
// scheduler. Decode failures are isolated: the chunk is dropped and the
// session keeps running.
func (c *Controller) handleAudio(gen uint64, p *pipeline, pcm []byte) {
	if c.pipeline(gen) == nil {
		return // late event after disconnect
	}

	buf, err := audio.DecodePCM16(pcm, live.OutputSampleRate, 1)
	if err != nil {
		slog.Warn("dropping malformed audio chunk", "bytes", len(pcm), "err", err)
		if c.metrics != nil {
			c.metrics.DecodeErrors.Add(context.Background(), 1)
		}
		return
	}

	if err := p.sched.Schedule(buf); err != nil {
		// Scheduling can only fail on a programming error or a closed
		// line mid-teardown; neither should abort the session.
		slog.Error("schedule chunk failed", "err", err)
		return
	}
	if c.metrics != nil {
		c.metrics.ChunksScheduled.Add(context.Background(), 1)
		c.metrics.ChunkDuration.Record(context.Background(), buf.Duration().Seconds())
	}
}

// handleInterrupted implements barge-in: flush all scheduled speech
// immediately and go back to listening.
func (c *Controller) handleInterrupted(gen uint64, p *pipeline) {
	if c.pipeline(gen) == nil {
		return
	}
	p.sched.Interrupt()
	if c.metrics != nil {
		c.metrics.Interruptions.Add(context.Background(), 1)
	}
	slog.Debug("barge-in, playback flushed")
	c.applyPlaybackStatus(gen, StatusConnected)
}

func (c *Controller) handleRemoteClosed(gen uint64) {
	slog.Info("live channel closed by remote")
	c.teardown(gen)
}

func (c *Controller) handleTransportError(gen uint64, err error) {
	_ = c.fail(gen, errors.Join(ErrTransport, err))
}

// applyPlaybackStatus applies a playback-driven transition, respecting
// the state machine: Buffering only from Connected, Speaking from
// Connected/Buffering, Connected (drain or barge-in) from any active
// state.
func (c *Controller) applyPlaybackStatus(gen uint64, to Status) {
	c.mu.Lock()
	if gen != c.gen || !c.status.Active() {
		c.mu.Unlock()
		return
	}
	switch to {
	case StatusBuffering:
		if c.status != StatusConnected {
			c.mu.Unlock()
			return
		}
	case StatusSpeaking, StatusConnected:
		// allowed from any active state
	default:
		c.mu.Unlock()
		return
	}
	if c.status == to {
		c.mu.Unlock()
		return
	}
	c.status = to
	c.mu.Unlock()
	c.notify(to)
}

// fail records the error, shows the Error status, and then tears down to
// Disconnected. Stale generations are ignored.
func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return err
	}
	c.isErr = true
	c.status = StatusError
	c.mu.Unlock()

	slog.Error("session failed", "err", err)
	c.notify(StatusError)
	c.teardown(gen)
	return err
}

// teardown releases every acquired handle, in order: logical session
// handle, capture device, output line, then the scheduled playback set
// and clock. Idempotent; bumping the generation makes any in-flight
// event from the old session a no-op.
func (c *Controller) teardown(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	p := c.pipe
	c.pipe = nil
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	if p != nil {
		p.closed.Store(true)
		p.ready.Store(false)
		if transport := p.loadTransport(); transport != nil {
			_ = transport.Close()
		}
		if p.capture != nil {
			_ = p.capture.Stop()
		}
		if p.line != nil {
			_ = p.line.Close()
		}
		if p.sched != nil {
			p.sched.Interrupt()
		}
		if c.metrics != nil && p.counted.Load() {
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}

	c.meter.Reset()
	if c.OnLevel != nil {
		c.OnLevel(0)
	}
	if changed {
		slog.Info("session disconnected")
		c.notify(StatusDisconnected)
	}
}

func (c *Controller) notify(status Status) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(status)
	}
}
