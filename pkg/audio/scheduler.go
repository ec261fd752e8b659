package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulingInvariant signals a scheduler programming error. It should
// never surface during normal operation.
var ErrSchedulingInvariant = errors.New("audio: scheduling invariant violated")

// Clock reports the current position of the output device clock.
// Positions are monotonic durations since the device was opened.
type Clock interface {
	Now() time.Duration
}

// Player starts playback of a buffer at a given clock position.
// Implementations must not invoke onEnded synchronously from Play and
// must invoke it exactly once when the buffer plays to its natural end.
// A stopped source never fires onEnded.
type Player interface {
	Play(buf *Buffer, at time.Duration, onEnded func()) (Source, error)
}

// Source is a live playback handle. Stop is best-effort: stopping a source
// that already finished is a no-op.
type Source interface {
	Stop()
}

// SchedulerEvents are notifications about the scheduler's active set.
// All callbacks are invoked outside the scheduler's lock, in order:
// OnBuffering (active set was empty before a schedule, fired before the
// buffer is handed to the player), OnSpeaking (a source was scheduled),
// OnDrained (the last active source ended naturally). Interrupt does not
// fire OnDrained.
type SchedulerEvents struct {
	OnBuffering func()
	OnSpeaking  func()
	OnDrained   func()
}

// Scheduler lines up incoming audio buffers back-to-back on the output
// clock with no gaps or overlaps, and supports immediate flush on
// interruption. Schedule is a critical section over the cursor: concurrent
// callers never compute overlapping start times.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	player Player
	events SchedulerEvents

	next   time.Duration // cursor: where the next buffer starts
	active map[uint64]Source
	lastID uint64
}

// NewScheduler creates a scheduler over the given output clock and player.
func NewScheduler(clock Clock, player Player, events SchedulerEvents) *Scheduler {
	return &Scheduler{
		clock:  clock,
		player: player,
		events: events,
		active: make(map[uint64]Source),
	}
}

// Schedule queues buf to start as soon as the previously scheduled audio
// ends, or immediately if the cursor has fallen behind the device clock.
func (s *Scheduler) Schedule(buf *Buffer) error {
	if buf == nil || buf.Frames() == 0 {
		return fmt.Errorf("%w: empty buffer", ErrSchedulingInvariant)
	}

	s.mu.Lock()
	wasEmpty := len(s.active) == 0

	start := s.next
	if now := s.clock.Now(); now > start {
		start = now
	}

	s.lastID++
	id := s.lastID
	s.active[id] = pendingSource{}
	s.next = start + buf.Duration()
	s.mu.Unlock()

	// Buffering is announced before the buffer reaches the player.
	if wasEmpty && s.events.OnBuffering != nil {
		s.events.OnBuffering()
	}

	src, err := s.player.Play(buf, start, func() { s.sourceEnded(id) })
	if err != nil {
		s.mu.Lock()
		delete(s.active, id)
		if s.next == start+buf.Duration() {
			s.next = start
		}
		drained := len(s.active) == 0
		s.mu.Unlock()
		if drained && s.events.OnDrained != nil {
			s.events.OnDrained()
		}
		return fmt.Errorf("audio: schedule chunk: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		// Interrupted while the play call was in flight.
		s.mu.Unlock()
		src.Stop()
		return nil
	}
	s.active[id] = src
	s.mu.Unlock()

	if s.events.OnSpeaking != nil {
		s.events.OnSpeaking()
	}
	return nil
}

// pendingSource holds a slot in the active set while the play call for it
// is still in flight. Stopping it is a no-op; Schedule stops the real
// source once it lands in a slot that Interrupt already cleared.
type pendingSource struct{}

func (pendingSource) Stop() {}

// Interrupt force-stops every active source, clears the active set, and
// resets the cursor to zero. Effective immediately: it does not wait for
// in-flight buffers to finish.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := make([]Source, 0, len(s.active))
	for id, src := range s.active {
		stopped = append(stopped, src)
		delete(s.active, id)
	}
	s.next = 0
	s.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	if len(stopped) > 0 {
		slog.Debug("playback interrupted", "stopped", len(stopped))
	}
}

// ActiveCount returns the number of currently scheduled sources.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the current next-start position.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) sourceEnded(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		// Already flushed by Interrupt; a late ended event is a no-op.
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	s.mu.Unlock()

	if drained && s.events.OnDrained != nil {
		s.events.OnDrained()
	}
}
