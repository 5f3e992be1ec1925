package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/zap"
)

var ErrNoScreenSource = errors.New("compositor: screen source is required")

type Mode string

const (
	// ModeMux attaches the source tracks to one stream without touching pixels.
	ModeMux Mode = "mux"

	// ModePictureInPicture renders the screen full-frame with the webcam in a corner inset.
	ModePictureInPicture Mode = "pip"
)

// ParseMode accepts the configured composite mode names.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pip", "pixel", "composite":
		return ModePictureInPicture, nil
	case "mux", "tracks":
		return ModeMux, nil
	}

	return "", fmt.Errorf("unknown composite mode %q", s)
}

type Inset struct {
	Width       int
	Height      int
	Margin      int
	Border      int
	BorderColor color.RGBA
}

type Options struct {
	Logger *zap.Logger
	Mode   Mode

	Width     int
	Height    int
	FrameRate int
	Inset     Inset

	// Scheduler paces the redraw loop, defaults to one tick per frame.
	Scheduler Scheduler
}

// Compositor builds the one composite stream of a session from the raw sources.
type Compositor struct {
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	stream  *media.Stream
	surface *Surface
	loop    *RedrawLoop
	output  *media.VideoTrack
	screen  *media.Source
	webcam  *media.Source
}

func New(opts Options) *Compositor {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Mode == "" {
		opts.Mode = ModePictureInPicture
	}

	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = config.SURFACE_WIDTH, config.SURFACE_HEIGHT
	}

	if opts.FrameRate == 0 {
		opts.FrameRate = config.SURFACE_FRAME_RATE
	}

	if opts.Inset == (Inset{}) {
		opts.Inset = Inset{
			Width:       config.INSET_WIDTH,
			Height:      config.INSET_HEIGHT,
			Margin:      config.INSET_MARGIN,
			Border:      config.INSET_BORDER,
			BorderColor: color.RGBA{A: 204},
		}
	}

	if opts.Scheduler == nil {
		opts.Scheduler = NewFrameScheduler(opts.FrameRate)
	}

	return &Compositor{
		logger: logger.Named("compositor"),
		opts:   opts,
	}
}

func (c *Compositor) Mode() Mode {
	return c.opts.Mode
}

// Compose returns the session's composite stream, building it on the first call.
func (c *Compositor) Compose(screen, webcam *media.Source) (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.stream, nil
	}

	if screen == nil || screen.VideoTrack() == nil {
		return nil, ErrNoScreenSource
	}

	c.screen = screen
	c.webcam = webcam

	var stream *media.Stream

	switch c.opts.Mode {
	case ModeMux:
		stream = media.NewStream(screen.VideoTrack())

	case ModePictureInPicture:
		c.surface = NewSurface(c.opts.Width, c.opts.Height)
		c.output = media.NewVideoTrack("composite", media.Settings{
			Width:     c.opts.Width,
			Height:    c.opts.Height,
			FrameRate: c.opts.FrameRate,
		})
		c.loop = NewRedrawLoop(c.opts.Scheduler, c.render)
		c.output.OnStop(c.loop.Stop)

		// The first frame is drawn right away so the recorder never starts on an empty track.
		c.drawFrame(c.surface, c.output, screen, webcam)

		stream = media.NewStream(c.output)
		stream.SetSurface(c.surface)

	default:
		return nil, fmt.Errorf("unknown composite mode %q", c.opts.Mode)
	}

	for _, a := range screen.AudioTracks() {
		stream.AddTrack(a)
	}

	if webcam != nil {
		for _, a := range webcam.AudioTracks() {
			stream.AddTrack(a)
		}
	}

	c.stream = stream

	c.logger.Info("composite stream built",
		zap.String("mode", string(c.opts.Mode)),
		zap.Bool("webcam", webcam != nil),
		zap.Int("tracks", len(stream.Tracks())),
	)

	return stream, nil
}

// Stream returns the composite stream, nil before Compose.
func (c *Compositor) Stream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stream
}

// Start begins redrawing the surface. No-op in mux mode.
func (c *Compositor) Start() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop != nil {
		loop.Start()
	}
}

// Stop cancels the redraw loop. Safe from any state.
func (c *Compositor) Stop() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
}

// Draws returns how many frames the redraw loop drew.
func (c *Compositor) Draws() uint64 {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop == nil {
		return 0
	}

	return loop.Draws()
}

// Release stops the loop, frees the surface and forgets the stream so the next Compose starts anew.
// The stopped loop is kept so Draws still reports the final count.
func (c *Compositor) Release() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error

	if c.surface != nil {
		err = c.surface.Close()
	}

	c.stream = nil
	c.surface = nil
	c.output = nil
	c.screen = nil
	c.webcam = nil

	return err
}

func (c *Compositor) insetRect() image.Rectangle {
	in := c.opts.Inset
	x := c.opts.Width - in.Width - in.Margin
	y := c.opts.Height - in.Height - in.Margin

	return image.Rect(x, y, x+in.Width, y+in.Height)
}

// render draws one frame: black, screen scaled to fill, webcam inset when it has a frame.
func (c *Compositor) render() {
	c.mu.Lock()
	surface, output, screen, webcam := c.surface, c.output, c.screen, c.webcam
	c.mu.Unlock()

	c.drawFrame(surface, output, screen, webcam)
}

// drawFrame paints one composite frame. Callers pass the references they read under c.mu.
func (c *Compositor) drawFrame(surface *Surface, output *media.VideoTrack, screen, webcam *media.Source) {
	if surface == nil || output == nil {
		return
	}

	surface.Clear()

	if screen != nil {
		if frame, ok := screen.VideoTrack().Frame(); ok {
			surface.DrawFill(frame)
		}
	}

	if webcam != nil && webcam.VideoTrack() != nil && webcam.VideoTrack().Live() {
		if frame, ok := webcam.VideoTrack().Frame(); ok {
			surface.DrawInset(frame, c.insetRect(), c.opts.Inset.Border, c.opts.Inset.BorderColor)
		}
	}

	if frame := surface.Snapshot(); frame != nil {
		output.PushFrame(frame)
	}
}
