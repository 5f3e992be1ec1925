// Package recordertest provides a scriptable Encoder for tests.
package recordertest

import (
	"context"
	"errors"
	"sync"

	"github.com/OmGuptaIND/rekordr/media"
	"github.com/OmGuptaIND/rekordr/recorder"
)

// FakeEncoder records calls and emits data only when told to.
type FakeEncoder struct {
	// Unsupported lists mime types Supports rejects.
	Unsupported map[string]bool
	StartErr    error

	// FlushData is emitted synchronously on RequestData when set.
	FlushData []byte

	// SilentStop suppresses the OnStop notification.
	SilentStop bool

	mu       sync.Mutex
	handlers recorder.Handlers
	config   recorder.EncoderConfig
	running  bool
	paused   bool

	Starts   int
	Pauses   int
	Resumes  int
	Requests int
	Stops    int
}

func NewFakeEncoder() *FakeEncoder {
	return &FakeEncoder{Unsupported: map[string]bool{}}
}

func (f *FakeEncoder) Supports(format recorder.Format) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.Unsupported[format.MimeType]
}

func (f *FakeEncoder) Start(_ context.Context, _ *media.Stream, cfg recorder.EncoderConfig, h recorder.Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return f.StartErr
	}

	if f.running {
		return errors.New("fake encoder already running")
	}

	f.handlers = h
	f.config = cfg
	f.running = true
	f.paused = false
	f.Starts++

	return nil
}

// Emit delivers data as if the encoder produced a fragment.
func (f *FakeEncoder) Emit(data []byte) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()

	if h.OnData != nil {
		h.OnData(data)
	}
}

// EmitSize emits n zero bytes.
func (f *FakeEncoder) EmitSize(n int) {
	f.Emit(make([]byte, n))
}

func (f *FakeEncoder) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paused = true
	f.Pauses++

	return nil
}

func (f *FakeEncoder) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paused = false
	f.Resumes++

	return nil
}

func (f *FakeEncoder) RequestData() {
	f.mu.Lock()
	f.Requests++
	data := f.FlushData
	h := f.handlers
	f.mu.Unlock()

	if len(data) > 0 && h.OnData != nil {
		h.OnData(data)
	}
}

func (f *FakeEncoder) Stop() error {
	f.mu.Lock()

	if !f.running {
		f.mu.Unlock()
		return nil
	}

	f.running = false
	f.Stops++
	h := f.handlers
	silent := f.SilentStop
	f.mu.Unlock()

	if !silent && h.OnStop != nil {
		h.OnStop(nil)
	}

	return nil
}

func (f *FakeEncoder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}

func (f *FakeEncoder) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.paused
}

func (f *FakeEncoder) Config() recorder.EncoderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.config
}

// Counts returns the call counters.
func (f *FakeEncoder) Counts() (starts, pauses, resumes, requests, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Starts, f.Pauses, f.Resumes, f.Requests, f.Stops
}
