// Package devicestest provides an in-memory MediaDevices for tests.
package devicestest

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/OmGuptaIND/rekordr/devices"
	"github.com/OmGuptaIND/rekordr/media"
)

// FakeDevices grants synthetic sources filled with a solid color.
type FakeDevices struct {
	ScreenErr error
	WebcamErr error

	ScreenAudio bool
	WebcamAudio bool

	ScreenSize image.Point
	WebcamSize image.Point

	ScreenColor color.RGBA
	WebcamColor color.RGBA

	mu      sync.Mutex
	Screens []*media.Source
	Webcams []*media.Source
}

func NewFakeDevices() *FakeDevices {
	return &FakeDevices{
		ScreenAudio: true,
		WebcamAudio: true,
		ScreenSize:  image.Pt(64, 36),
		WebcamSize:  image.Pt(16, 12),
		ScreenColor: color.RGBA{R: 0, G: 0, B: 255, A: 255},
		WebcamColor: color.RGBA{R: 255, G: 0, B: 0, A: 255},
	}
}

func (f *FakeDevices) GetDisplayMedia(ctx context.Context, c devices.Constraints) (*media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.ScreenErr != nil {
		return nil, f.ScreenErr
	}

	video := solidTrack("screen", f.ScreenSize, f.ScreenColor)

	var audio []*media.AudioTrack
	if c.Audio && f.ScreenAudio {
		audio = append(audio, media.NewAudioTrack("system audio", media.Input{Format: "lavfi", Device: "anullsrc"}))
	}

	source := media.NewSource(media.SourceScreen, video, audio...)

	f.mu.Lock()
	f.Screens = append(f.Screens, source)
	f.mu.Unlock()

	return source, nil
}

func (f *FakeDevices) GetUserMedia(ctx context.Context, c devices.Constraints) (*media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.WebcamErr != nil {
		return nil, f.WebcamErr
	}

	video := solidTrack("webcam", f.WebcamSize, f.WebcamColor)

	var audio []*media.AudioTrack
	if c.Audio && f.WebcamAudio {
		audio = append(audio, media.NewAudioTrack("microphone", media.Input{Format: "lavfi", Device: "anullsrc"}))
	}

	source := media.NewSource(media.SourceWebcam, video, audio...)

	f.mu.Lock()
	f.Webcams = append(f.Webcams, source)
	f.mu.Unlock()

	return source, nil
}

// LiveTracks counts the live tracks across every source granted so far.
func (f *FakeDevices) LiveTracks() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range append(append([]*media.Source{}, f.Screens...), f.Webcams...) {
		for _, t := range s.Tracks() {
			if t.Live() {
				n++
			}
		}
	}

	return n
}

// EndScreen simulates the user revoking screen sharing from outside the application.
func (f *FakeDevices) EndScreen() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.Screens {
		s.VideoTrack().End()
	}
}

func solidTrack(label string, size image.Point, c color.RGBA) *media.VideoTrack {
	track := media.NewVideoTrack(label, media.Settings{Width: size.X, Height: size.Y, FrameRate: 30})

	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}

	track.PushFrame(img)

	return track
}
