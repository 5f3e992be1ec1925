package compositor

import (
	"sync"
	"time"
)

// Scheduler runs fn once at the next frame boundary, like requestAnimationFrame.
// The returned func cancels the pending call.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// FrameScheduler schedules callbacks on a fixed frame interval.
type FrameScheduler struct {
	Interval time.Duration
}

func NewFrameScheduler(fps int) *FrameScheduler {
	if fps <= 0 {
		fps = 30
	}

	return &FrameScheduler{Interval: time.Second / time.Duration(fps)}
}

func (s *FrameScheduler) Schedule(fn func()) func() {
	t := time.AfterFunc(s.Interval, fn)

	return func() { t.Stop() }
}

// RedrawLoop is a self-rescheduling draw task gated by an active flag.
// It never schedules itself once stopped, and a tick that fires after Stop draws nothing.
type RedrawLoop struct {
	scheduler Scheduler
	draw      func()

	mu     sync.Mutex
	active bool
	cancel func()
	draws  uint64
}

func NewRedrawLoop(scheduler Scheduler, draw func()) *RedrawLoop {
	return &RedrawLoop{
		scheduler: scheduler,
		draw:      draw,
	}
}

// Start activates the loop and schedules the first draw.
func (l *RedrawLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return
	}

	l.active = true
	l.cancel = l.scheduler.Schedule(l.tick)
}

func (l *RedrawLoop) tick() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.cancel = nil
	l.mu.Unlock()

	l.draw()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.draws++

	if l.active {
		l.cancel = l.scheduler.Schedule(l.tick)
	}
}

// Stop deactivates the loop and cancels the pending draw. Safe to call repeatedly.
func (l *RedrawLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = false

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *RedrawLoop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.active
}

// Draws returns how many frames were drawn.
func (l *RedrawLoop) Draws() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.draws
}
