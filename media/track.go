package media

import (
	"image"
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one media channel of a source or of a composite stream.
type Track interface {
	ID() string
	Kind() Kind
	Label() string

	// Live reports whether the track still delivers media.
	Live() bool

	// Stop releases the track. Safe to call any number of times.
	Stop()

	// Ended is closed when the platform ends the track, e.g. the user revoked
	// screen sharing. Stopping the track locally does not close it.
	Ended() <-chan struct{}
}

// BaseTrack implements the lifecycle shared by every track.
type BaseTrack struct {
	id    string
	kind  Kind
	label string

	mu      sync.Mutex
	stopped bool
	ended   bool
	endedCh chan struct{}

	stopOnce sync.Once
	onStop   []func()
}

func NewBaseTrack(kind Kind, label string) *BaseTrack {
	return &BaseTrack{
		id:      uuid.New().String(),
		kind:    kind,
		label:   label,
		endedCh: make(chan struct{}),
	}
}

func (t *BaseTrack) ID() string {
	return t.id
}

func (t *BaseTrack) Kind() Kind {
	return t.kind
}

func (t *BaseTrack) Label() string {
	return t.label
}

func (t *BaseTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return !t.stopped && !t.ended
}

func (t *BaseTrack) Ended() <-chan struct{} {
	return t.endedCh
}

// OnStop registers a hook that releases the underlying device, run once on the first Stop.
func (t *BaseTrack) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onStop = append(t.onStop, fn)
}

// Stop marks the track stopped and runs the release hooks exactly once.
func (t *BaseTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		hooks := t.onStop
		t.onStop = nil
		t.mu.Unlock()

		for _, hook := range hooks {
			hook()
		}
	})
}

// End is called by the platform when the track ends on its own. No-op once stopped.
func (t *BaseTrack) End() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.ended {
		return
	}

	t.ended = true
	close(t.endedCh)
}

// Settings describe the geometry of a video track.
type Settings struct {
	Width     int
	Height    int
	FrameRate int
}

// Preview is the read-only view handed to collaborators that only display a track.
type Preview interface {
	Frame() (image.Image, bool)
	Settings() Settings
	Live() bool
}

// VideoTrack holds the most recent frame delivered by its producer.
type VideoTrack struct {
	*BaseTrack

	settings Settings

	frameMu sync.RWMutex
	frame   image.Image
	frames  uint64
}

func NewVideoTrack(label string, settings Settings) *VideoTrack {
	return &VideoTrack{
		BaseTrack: NewBaseTrack(KindVideo, label),
		settings:  settings,
	}
}

func (v *VideoTrack) Settings() Settings {
	return v.settings
}

// PushFrame replaces the current frame, frames pushed after the track ended are dropped.
func (v *VideoTrack) PushFrame(img image.Image) {
	if img == nil || !v.Live() {
		return
	}

	v.frameMu.Lock()
	defer v.frameMu.Unlock()

	v.frame = img
	v.frames++
}

// Frame returns the latest frame, false until the first frame arrived.
func (v *VideoTrack) Frame() (image.Image, bool) {
	v.frameMu.RLock()
	defer v.frameMu.RUnlock()

	return v.frame, v.frame != nil
}

// FrameCount returns the number of frames pushed so far.
func (v *VideoTrack) FrameCount() uint64 {
	v.frameMu.RLock()
	defer v.frameMu.RUnlock()

	return v.frames
}

// Input describes how the platform recorder opens an audio device.
type Input struct {
	Format string
	Device string
}

type AudioTrack struct {
	*BaseTrack

	input Input
}

func NewAudioTrack(label string, input Input) *AudioTrack {
	return &AudioTrack{
		BaseTrack: NewBaseTrack(KindAudio, label),
		input:     input,
	}
}

func (a *AudioTrack) Input() Input {
	return a.input
}
