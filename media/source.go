package media

import (
	"time"
)

type SourceKind string

const (
	SourceScreen SourceKind = "screen"
	SourceWebcam SourceKind = "webcam"
)

// Source is a raw capture feed granted by the platform.
type Source struct {
	Kind       SourceKind
	AcquiredAt time.Time

	video *VideoTrack
	audio []*AudioTrack
}

func NewSource(kind SourceKind, video *VideoTrack, audio ...*AudioTrack) *Source {
	return &Source{
		Kind:       kind,
		AcquiredAt: time.Now(),
		video:      video,
		audio:      audio,
	}
}

func (s *Source) VideoTrack() *VideoTrack {
	return s.video
}

func (s *Source) AudioTracks() []*AudioTrack {
	tracks := make([]*AudioTrack, len(s.audio))
	copy(tracks, s.audio)

	return tracks
}

// Tracks returns the video track first, then the audio tracks.
func (s *Source) Tracks() []Track {
	tracks := make([]Track, 0, len(s.audio)+1)

	if s.video != nil {
		tracks = append(tracks, s.video)
	}

	for _, a := range s.audio {
		tracks = append(tracks, a)
	}

	return tracks
}

// Live reports whether the video track of the source is still live.
func (s *Source) Live() bool {
	return s.video != nil && s.video.Live()
}

// Ended fires when the platform terminates the source's video track.
func (s *Source) Ended() <-chan struct{} {
	if s.video == nil {
		return nil
	}

	return s.video.Ended()
}

// Stop stops every track of the source.
func (s *Source) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
