package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameWriter accepts fixed-size mono PCM frames at the device cadence.
// PlaybackDevice is the production implementation.
type FrameWriter interface {
	WriteFrame(frame []float32) error
}

// Timeline renders scheduled buffers onto a continuous mono sample stream.
// It implements Clock and Player for the Scheduler: the clock position is
// the number of samples pushed to the output so far, and scheduled sources
// are mixed in at their exact start sample with silence in between.
//
// A single feeder goroutine assembles frames and writes them to the
// FrameWriter; the blocking write paces the goroutine at device speed.
type Timeline struct {
	out        FrameWriter
	sampleRate int
	frameSize  int

	mu     sync.Mutex
	pos    int64 // samples written since Start
	queue  []*timelineSource
	closed bool

	done chan struct{}
}

type timelineSource struct {
	samples []float32
	start   int64 // absolute sample position
	offset  int

	mu      sync.Mutex
	stopped bool
	onEnded func()
}

// Stop discards the source's remaining samples. The ended callback will
// not fire. Stopping a finished source is a no-op.
func (ts *timelineSource) Stop() {
	ts.mu.Lock()
	ts.stopped = true
	ts.onEnded = nil
	ts.mu.Unlock()
}

func (ts *timelineSource) isStopped() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stopped
}

func (ts *timelineSource) takeEnded() func() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	fn := ts.onEnded
	ts.onEnded = nil
	return fn
}

// NewTimeline creates a timeline writing frameSize-sample frames to out.
func NewTimeline(out FrameWriter, sampleRate, frameSize int) *Timeline {
	return &Timeline{
		out:        out,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		done:       make(chan struct{}),
	}
}

// Start launches the feeder goroutine.
func (t *Timeline) Start() {
	go t.run()
}

// Now returns the current output clock position.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.pos) * time.Second / time.Duration(t.sampleRate)
}

// Play schedules buf to start at the given clock position. Multi-channel
// buffers are downmixed to mono. The returned source can be stopped to
// drop its remaining samples immediately.
func (t *Timeline) Play(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	if buf.SampleRate != t.sampleRate {
		return nil, fmt.Errorf("audio: buffer rate %d does not match timeline rate %d", buf.SampleRate, t.sampleRate)
	}

	src := &timelineSource{
		samples: downmix(buf),
		start:   int64(at) * int64(t.sampleRate) / int64(time.Second),
		onEnded: onEnded,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("audio: timeline closed")
	}
	t.queue = append(t.queue, src)
	return src, nil
}

// Close stops the feeder goroutine and drops all queued sources without
// firing their ended callbacks. Idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.queue = nil
	t.mu.Unlock()

	<-t.done
	return nil
}

func (t *Timeline) run() {
	defer close(t.done)

	frame := make([]float32, t.frameSize)
	for {
		ended := t.assembleFrame(frame)
		if ended == nil && t.isClosed() {
			return
		}
		for _, fn := range ended {
			fn()
		}
		if err := t.out.WriteFrame(frame); err != nil {
			slog.Debug("timeline write error", "err", err)
			return
		}
	}
}

func (t *Timeline) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// assembleFrame fills frame with the next frameSize samples of the
// timeline, inserting silence wherever no source is due, and returns the
// ended callbacks of sources that completed within this frame.
func (t *Timeline) assembleFrame(frame []float32) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	var ended []func()
	for i := range frame {
		frame[i] = 0

		for len(t.queue) > 0 {
			head := t.queue[0]
			if head.isStopped() {
				t.queue = t.queue[1:]
				continue
			}
			if head.offset >= len(head.samples) {
				if fn := head.takeEnded(); fn != nil {
					ended = append(ended, fn)
				}
				t.queue = t.queue[1:]
				continue
			}
			break
		}
		if len(t.queue) == 0 {
			t.pos++
			continue
		}

		head := t.queue[0]
		if t.pos >= head.start {
			frame[i] = head.samples[head.offset]
			head.offset++
		}
		t.pos++
	}
	return ended
}

// downmix averages all channels of buf into a single mono slice.
func downmix(buf *Buffer) []float32 {
	if len(buf.ChannelData) == 1 {
		out := make([]float32, len(buf.ChannelData[0]))
		copy(out, buf.ChannelData[0])
		return out
	}
	frames := buf.Frames()
	out := make([]float32, frames)
	n := float32(len(buf.ChannelData))
	for f := 0; f < frames; f++ {
		var sum float32
		for _, ch := range buf.ChannelData {
			sum += ch[f]
		}
		out[f] = sum / n
	}
	return out
}
