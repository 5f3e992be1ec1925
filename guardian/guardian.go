package guardian

import (
	"fmt"
	"sync"

	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Loop is a cancellable redraw task.
type Loop interface {
	Stop()
}

// Releaser is a loop that also frees what it drew on once the tracks are stopped.
type Releaser interface {
	Release() error
}

// Recorder is the part of the recorder the guardian tears down.
type Recorder interface {
	Halt() error
	Reset()
}

type Options struct {
	Logger *zap.Logger
}

// Guardian owns every resource a session acquires and releases them through one funnel.
type Guardian struct {
	logger *zap.Logger

	mu       sync.Mutex
	sources  []*media.Source
	stream   *media.Stream
	loop     Loop
	recorder Recorder
	releases int
}

func New(opts Options) *Guardian {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Guardian{
		logger: logger.Named("guardian"),
	}
}

func (g *Guardian) GuardSource(s *media.Source) {
	if s == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.sources {
		if existing == s {
			return
		}
	}

	g.sources = append(g.sources, s)
}

func (g *Guardian) GuardStream(s *media.Stream) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stream = s
}

func (g *Guardian) GuardLoop(l Loop) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loop = l
}

func (g *Guardian) GuardRecorder(r Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recorder = r
}

// Release cancels the loop, halts the recorder, stops every stream and source track, frees the
// loop's surface and clears the recorded chunks. Safe to call from any state and any number of times.
// A failing step never prevents the following ones.
func (g *Guardian) Release() error {
	g.mu.Lock()
	sources := append([]*media.Source(nil), g.sources...)
	stream, loop, rec := g.stream, g.loop, g.recorder
	g.releases++
	n := g.releases
	g.mu.Unlock()

	var err error

	if loop != nil {
		loop.Stop()
	}

	if rec != nil {
		if herr := rec.Halt(); herr != nil {
			err = multierr.Append(err, fmt.Errorf("halt recorder: %w", herr))
		}
	}

	if stream != nil {
		stream.Stop()

		if surface := stream.Surface(); surface != nil {
			if cerr := surface.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close surface: %w", cerr))
			}
		}
	}

	for _, s := range sources {
		s.Stop()
	}

	if r, ok := loop.(Releaser); ok {
		if rerr := r.Release(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("release loop: %w", rerr))
		}
	}

	if rec != nil {
		rec.Reset()
	}

	live := g.LiveTracks()

	if err != nil {
		g.logger.Warn("release finished with errors", zap.Int("release", n), zap.Int("liveTracks", live), zap.Error(err))
	} else {
		g.logger.Debug("released", zap.Int("release", n), zap.Int("liveTracks", live))
	}

	return err
}

// LiveTracks counts live tracks across the guarded sources and stream.
func (g *Guardian) LiveTracks() int {
	g.mu.Lock()
	sources := append([]*media.Source(nil), g.sources...)
	stream := g.stream
	g.mu.Unlock()

	seen := map[string]bool{}
	n := 0

	count := func(t media.Track) {
		if seen[t.ID()] {
			return
		}

		seen[t.ID()] = true

		if t.Live() {
			n++
		}
	}

	for _, s := range sources {
		for _, t := range s.Tracks() {
			count(t)
		}
	}

	if stream != nil {
		for _, t := range stream.Tracks() {
			count(t)
		}
	}

	return n
}
