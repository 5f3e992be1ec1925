package devices

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/zap"
)

type FFmpegDevicesOptions struct {
	Logger     *zap.Logger
	FFmpegPath string

	// Display is the X display grabbed as the screen, e.g. ":0" or a virtual Xvfb display.
	Display      string
	ScreenWidth  int
	ScreenHeight int
	FrameRate    int

	// SystemAudio is the PulseAudio source recorded with the screen, empty for none.
	SystemAudio string

	WebcamDevice string
	Microphone   string
}

// FFmpegDevices grants sources by spawning ffmpeg capture processes that decode to raw RGBA frames.
type FFmpegDevices struct {
	logger *zap.Logger
	opts   FFmpegDevicesOptions
}

func NewFFmpegDevices(opts FFmpegDevicesOptions) *FFmpegDevices {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}

	if opts.ScreenWidth == 0 || opts.ScreenHeight == 0 {
		opts.ScreenWidth = config.DEFAULT_DISPLAY_OPTS.Width
		opts.ScreenHeight = config.DEFAULT_DISPLAY_OPTS.Height
	}

	if opts.FrameRate == 0 {
		opts.FrameRate = config.SURFACE_FRAME_RATE
	}

	return &FFmpegDevices{
		logger: logger.Named("ffmpeg-devices"),
		opts:   opts,
	}
}

// GetDisplayMedia grabs the configured X display, plus the system audio monitor when asked for audio.
func (d *FFmpegDevices) GetDisplayMedia(ctx context.Context, c Constraints) (*media.Source, error) {
	if !c.Video {
		return nil, fmt.Errorf("screen capture requires video")
	}

	if d.opts.Display == "" {
		return nil, fmt.Errorf("%w: no X display configured", ErrNotAllowed)
	}

	settings := media.Settings{
		Width:     d.opts.ScreenWidth,
		Height:    d.opts.ScreenHeight,
		FrameRate: d.opts.FrameRate,
	}

	input := []string{
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"-framerate", strconv.Itoa(settings.FrameRate),
		"-i", d.opts.Display,
	}

	video, err := d.openVideo(ctx, "screen", input, settings)

	if err != nil {
		return nil, err
	}

	var audio []*media.AudioTrack

	if c.Audio && d.opts.SystemAudio != "" {
		audio = append(audio, media.NewAudioTrack("system audio", media.Input{Format: "pulse", Device: d.opts.SystemAudio}))
	}

	return media.NewSource(media.SourceScreen, video, audio...), nil
}

// GetUserMedia opens the v4l2 webcam and the microphone.
func (d *FFmpegDevices) GetUserMedia(ctx context.Context, c Constraints) (*media.Source, error) {
	if !c.Video {
		return nil, fmt.Errorf("webcam capture requires video")
	}

	if d.opts.WebcamDevice == "" {
		return nil, ErrNotFound
	}

	if _, err := os.Stat(d.opts.WebcamDevice); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d.opts.WebcamDevice)
	}

	settings := media.Settings{
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: d.opts.FrameRate,
	}

	if settings.Width == 0 || settings.Height == 0 {
		settings.Width, settings.Height = config.WEBCAM_WIDTH, config.WEBCAM_HEIGHT
	}

	input := []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"-i", d.opts.WebcamDevice,
	}

	video, err := d.openVideo(ctx, "webcam", input, settings)

	if err != nil {
		return nil, err
	}

	var audio []*media.AudioTrack

	if c.Audio && d.opts.Microphone != "" {
		audio = append(audio, media.NewAudioTrack("microphone", media.Input{Format: "pulse", Device: d.opts.Microphone}))
	}

	return media.NewSource(media.SourceWebcam, video, audio...), nil
}

// openVideo starts the capture process and returns once the first frame arrived.
// The process exiting on its own ends the track.
func (d *FFmpegDevices) openVideo(ctx context.Context, label string, input []string, settings media.Settings) (*media.VideoTrack, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, input...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", settings.Width, settings.Height),
		"-r", strconv.Itoa(settings.FrameRate),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	cmd := exec.Command(d.opts.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()

	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s capture: %v", ErrNotAllowed, label, err)
	}

	track := media.NewVideoTrack(label, settings)
	first := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		frameSize := settings.Width * settings.Height * 4
		firstSent := false

		for {
			buf := make([]byte, frameSize)

			if _, err := io.ReadFull(stdout, buf); err != nil {
				break
			}

			track.PushFrame(&image.RGBA{
				Pix:    buf,
				Stride: settings.Width * 4,
				Rect:   image.Rect(0, 0, settings.Width, settings.Height),
			})

			if !firstSent {
				firstSent = true
				close(first)
			}
		}

		err := cmd.Wait()

		if track.Live() {
			d.logger.Warn("capture process exited", zap.String("track", label), zap.Error(err))
		}

		track.End()
	}()

	track.OnStop(func() {
		if cmd.Process == nil {
			return
		}

		_ = cmd.Process.Signal(os.Interrupt)

		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			d.logger.Warn("capture process did not stop in time, killing it", zap.String("track", label))
			_ = cmd.Process.Kill()
			<-exited
		}
	})

	select {
	case <-first:
		d.logger.Info("capture started", zap.String("track", label), zap.Int("width", settings.Width), zap.Int("height", settings.Height))
		return track, nil
	case <-exited:
		track.Stop()
		return nil, fmt.Errorf("%w: %s capture exited: %s", ErrNotAllowed, label, strings.TrimSpace(stderr.String()))
	case <-ctx.Done():
		track.Stop()
		return nil, ctx.Err()
	}
}
