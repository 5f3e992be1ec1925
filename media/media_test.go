package media_test

import (
	"image"
	"testing"

	"github.com/OmGuptaIND/rekordr/media"
	"github.com/stretchr/testify/assert"
)

func TestTrackStopIsIdempotent(t *testing.T) {
	track := media.NewVideoTrack("screen", media.Settings{Width: 4, Height: 4, FrameRate: 30})

	released := 0
	track.OnStop(func() { released++ })

	assert.True(t, track.Live())

	track.Stop()
	track.Stop()

	assert.False(t, track.Live())
	assert.Equal(t, 1, released)
}

func TestStopDoesNotSignalEnded(t *testing.T) {
	track := media.NewAudioTrack("mic", media.Input{Format: "pulse", Device: "default"})

	track.Stop()

	select {
	case <-track.Ended():
		t.Fatal("ended fired for a locally stopped track")
	default:
	}
}

func TestEndSignalsOnce(t *testing.T) {
	track := media.NewVideoTrack("screen", media.Settings{})

	track.End()
	track.End()

	select {
	case <-track.Ended():
	default:
		t.Fatal("ended did not fire")
	}

	assert.False(t, track.Live())

	released := false
	track.OnStop(func() { released = true })
	track.Stop()

	assert.True(t, released, "stop after end still releases the device")
}

func TestEndAfterStopIsIgnored(t *testing.T) {
	track := media.NewVideoTrack("screen", media.Settings{})

	track.Stop()
	track.End()

	select {
	case <-track.Ended():
		t.Fatal("ended fired after stop")
	default:
	}
}

func TestVideoTrackFrames(t *testing.T) {
	track := media.NewVideoTrack("screen", media.Settings{Width: 2, Height: 2})

	_, ready := track.Frame()
	assert.False(t, ready)

	track.PushFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)))

	frame, ready := track.Frame()
	assert.True(t, ready)
	assert.Equal(t, 2, frame.Bounds().Dx())

	track.Stop()
	track.PushFrame(image.NewRGBA(image.Rect(0, 0, 2, 2)))

	assert.Equal(t, uint64(1), track.FrameCount())
}

func TestStreamDeduplicatesTracks(t *testing.T) {
	video := media.NewVideoTrack("screen", media.Settings{})
	audio := media.NewAudioTrack("mic", media.Input{})

	stream := media.NewStream(video, audio, audio)

	assert.Len(t, stream.Tracks(), 2)
	assert.Len(t, stream.VideoTracks(), 1)
	assert.Len(t, stream.AudioTracks(), 1)
	assert.Equal(t, 2, stream.LiveTracks())

	stream.Stop()

	assert.Equal(t, 0, stream.LiveTracks())
}

func TestSourceTracks(t *testing.T) {
	video := media.NewVideoTrack("screen", media.Settings{})
	system := media.NewAudioTrack("system", media.Input{})

	source := media.NewSource(media.SourceScreen, video, system)

	assert.Len(t, source.Tracks(), 2)
	assert.Equal(t, media.KindVideo, source.Tracks()[0].Kind())
	assert.True(t, source.Live())

	video.End()

	select {
	case <-source.Ended():
	default:
		t.Fatal("source ended did not fire")
	}

	source.Stop()

	assert.False(t, system.Live())
}
