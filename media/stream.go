package media

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// Stream is the single composite stream fed to the recorder.
type Stream struct {
	ID string

	mu      sync.Mutex
	tracks  []Track
	surface io.Closer
}

func NewStream(tracks ...Track) *Stream {
	s := &Stream{
		ID: uuid.New().String(),
	}

	for _, t := range tracks {
		s.AddTrack(t)
	}

	return s
}

// AddTrack appends a track, adding the same track twice is ignored.
func (s *Stream) AddTrack(t Track) {
	if t == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return
		}
	}

	s.tracks = append(s.tracks, t)
}

func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]Track, len(s.tracks))
	copy(tracks, s.tracks)

	return tracks
}

func (s *Stream) VideoTracks() []*VideoTrack {
	var tracks []*VideoTrack

	for _, t := range s.Tracks() {
		if v, ok := t.(*VideoTrack); ok {
			tracks = append(tracks, v)
		}
	}

	return tracks
}

func (s *Stream) AudioTracks() []*AudioTrack {
	var tracks []*AudioTrack

	for _, t := range s.Tracks() {
		if a, ok := t.(*AudioTrack); ok {
			tracks = append(tracks, a)
		}
	}

	return tracks
}

// SetSurface records the drawing surface driving the stream's video track.
func (s *Stream) SetSurface(surface io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface = surface
}

func (s *Stream) Surface() io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.surface
}

// LiveTracks counts the tracks that are still live.
func (s *Stream) LiveTracks() int {
	n := 0

	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}

	return n
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
