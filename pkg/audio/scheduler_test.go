package audio_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type fakeSource struct {
	buf     *audio.Buffer
	at      time.Duration
	onEnded func()

	mu      sync.Mutex
	stopped bool
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakePlayer struct {
	mu      sync.Mutex
	sources []*fakeSource
	err     error
	onPlay  func()
}

func (p *fakePlayer) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPlay != nil {
		p.onPlay()
	}
	if p.err != nil {
		return nil, p.err
	}
	src := &fakeSource{buf: buf, at: at, onEnded: onEnded}
	p.sources = append(p.sources, src)
	return src, nil
}

func (p *fakePlayer) source(i int) *fakeSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources[i]
}

// monoBuf builds a buffer of the given length in frames at 24kHz.
func monoBuf(frames int) *audio.Buffer {
	return &audio.Buffer{
		ChannelData: [][]float32{make([]float32, frames)},
		SampleRate:  24000,
	}
}

func TestScheduleBackToBack(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	player := &fakePlayer{}
	s := audio.NewScheduler(clock, player, audio.SchedulerEvents{})

	if err := s.Schedule(monoBuf(24000)); err != nil {
		t.Fatalf("schedule 1: %v", err)
	}
	if err := s.Schedule(monoBuf(12000)); err != nil {
		t.Fatalf("schedule 2: %v", err)
	}

	if got := player.source(0).at; got != 0 {
		t.Errorf("first chunk start = %v, want 0", got)
	}
	if got := player.source(1).at; got != time.Second {
		t.Errorf("second chunk start = %v, want 1s", got)
	}
	if got := s.Cursor(); got != 1500*time.Millisecond {
		t.Errorf("cursor = %v, want 1.5s", got)
	}
}

func TestScheduleCatchesUpToClock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	player := &fakePlayer{}
	s := audio.NewScheduler(clock, player, audio.SchedulerEvents{})

	if err := s.Schedule(monoBuf(24000)); err != nil {
		t.Fatalf("schedule 1: %v", err)
	}

	// The device clock ran past the end of the first chunk while nothing
	// new arrived. The next chunk must start now, not in the past.
	clock.advance(3 * time.Second)
	if err := s.Schedule(monoBuf(24000)); err != nil {
		t.Fatalf("schedule 2: %v", err)
	}

	if got := player.source(1).at; got != 3*time.Second {
		t.Errorf("late chunk start = %v, want 3s", got)
	}
	if got := s.Cursor(); got != 4*time.Second {
		t.Errorf("cursor = %v, want 4s", got)
	}
}

func TestInterruptFlushesEverything(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	player := &fakePlayer{}
	drained := 0
	s := audio.NewScheduler(clock, player, audio.SchedulerEvents{
		OnDrained: func() { drained++ },
	})

	for i := 0; i < 3; i++ {
		if err := s.Schedule(monoBuf(4800)); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}

	s.Interrupt()

	for i := 0; i < 3; i++ {
		if !player.source(i).isStopped() {
			t.Errorf("source %d not stopped", i)
		}
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("active count = %d, want 0", got)
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("cursor = %v, want 0 after interrupt", got)
	}

	// A late ended event for a flushed source must not fire OnDrained.
	player.source(0).onEnded()
	if drained != 0 {
		t.Errorf("drained fired %d times after interrupt, want 0", drained)
	}

	// Interrupting an empty scheduler is a no-op.
	s.Interrupt()
}

func TestSchedulerEvents(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}

	clock := &fakeClock{}
	player := &fakePlayer{}
	s := audio.NewScheduler(clock, player, audio.SchedulerEvents{
		OnBuffering: record("buffering"),
		OnSpeaking:  record("speaking"),
		OnDrained:   record("drained"),
	})

	if err := s.Schedule(monoBuf(4800)); err != nil {
		t.Fatalf("schedule 1: %v", err)
	}
	if err := s.Schedule(monoBuf(4800)); err != nil {
		t.Fatalf("schedule 2: %v", err)
	}

	// Draining fires only when the last active source ends.
	player.source(0).onEnded()
	player.source(1).onEnded()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"buffering", "speaking", "speaking", "drained"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestBufferingFiresBeforePlay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}

	player := &fakePlayer{onPlay: record("play")}
	s := audio.NewScheduler(&fakeClock{}, player, audio.SchedulerEvents{
		OnBuffering: record("buffering"),
		OnSpeaking:  record("speaking"),
	})

	if err := s.Schedule(monoBuf(4800)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"buffering", "play", "speaking"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestScheduleRejectsEmptyBuffer(t *testing.T) {
	t.Parallel()

	s := audio.NewScheduler(&fakeClock{}, &fakePlayer{}, audio.SchedulerEvents{})

	if err := s.Schedule(nil); !errors.Is(err, audio.ErrSchedulingInvariant) {
		t.Errorf("nil buffer: got %v, want ErrSchedulingInvariant", err)
	}
	if err := s.Schedule(monoBuf(0)); !errors.Is(err, audio.ErrSchedulingInvariant) {
		t.Errorf("empty buffer: got %v, want ErrSchedulingInvariant", err)
	}
}

func TestSchedulePlayerError(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}

	player := &fakePlayer{err: errors.New("device gone")}
	s := audio.NewScheduler(&fakeClock{}, player, audio.SchedulerEvents{
		OnBuffering: record("buffering"),
		OnSpeaking:  record("speaking"),
		OnDrained:   record("drained"),
	})

	if err := s.Schedule(monoBuf(4800)); err == nil {
		t.Fatal("expected error from failed play")
	}
	if got := s.ActiveCount(); got != 0 {
		t.Errorf("active count = %d, want 0", got)
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("cursor = %v, want rolled back to 0", got)
	}

	// The announced buffering state must drain again so the session does
	// not appear stuck; no source was scheduled, so no speaking event.
	mu.Lock()
	defer mu.Unlock()
	want := []string{"buffering", "drained"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}
