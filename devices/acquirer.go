package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/zap"
)

type AcquirerOptions struct {
	Logger *zap.Logger

	// SkipWebcam records screen-only without asking for the webcam.
	SkipWebcam bool

	WebcamWidth  int
	WebcamHeight int
}

// Acquirer requests and holds the screen and webcam sources of one session.
type Acquirer struct {
	logger  *zap.Logger
	devices MediaDevices
	opts    AcquirerOptions

	mu        sync.Mutex
	screen    *media.Source
	webcam    *media.Source
	webcamErr error
	released  bool

	terminated chan struct{}
	termOnce   sync.Once
	stopWatch  context.CancelFunc
}

func NewAcquirer(devices MediaDevices, opts AcquirerOptions) *Acquirer {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.WebcamWidth == 0 || opts.WebcamHeight == 0 {
		opts.WebcamWidth = config.WEBCAM_WIDTH
		opts.WebcamHeight = config.WEBCAM_HEIGHT
	}

	return &Acquirer{
		logger:     logger.Named("acquirer"),
		devices:    devices,
		opts:       opts,
		terminated: make(chan struct{}),
	}
}

// Acquire requests the mandatory screen source and the optional webcam.
// A screen failure returns false with ErrPermissionDenied, a webcam failure is only logged.
func (a *Acquirer) Acquire(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.screen != nil {
		a.mu.Unlock()
		return true, nil
	}
	a.mu.Unlock()

	screen, err := a.devices.GetDisplayMedia(ctx, Constraints{Video: true, Audio: true})

	if err != nil {
		a.logger.Error("screen capture was not granted", zap.Error(err))
		if screen != nil {
			screen.Stop()
		}
		return false, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	if screen == nil || screen.VideoTrack() == nil {
		if screen != nil {
			screen.Stop()
		}
		return false, fmt.Errorf("%w: platform returned no screen video", ErrPermissionDenied)
	}

	a.logger.Info("screen source acquired", zap.Int("tracks", len(screen.Tracks())))

	var webcam *media.Source
	var webcamErr error

	if a.opts.SkipWebcam {
		webcamErr = fmt.Errorf("%w: disabled", ErrOptionalSourceUnavailable)
	} else {
		webcam, err = a.devices.GetUserMedia(ctx, Constraints{
			Video:  true,
			Audio:  true,
			Width:  a.opts.WebcamWidth,
			Height: a.opts.WebcamHeight,
		})

		if err == nil && webcam == nil {
			err = ErrNotFound
		}

		if err != nil {
			a.logger.Warn("webcam unavailable, continuing screen-only", zap.Error(err))
			if webcam != nil {
				webcam.Stop()
			}
			webcam = nil
			webcamErr = fmt.Errorf("%w: %v", ErrOptionalSourceUnavailable, err)
		} else {
			a.logger.Info("webcam source acquired", zap.Int("tracks", len(webcam.Tracks())))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Released while the grant prompts were open.
	if a.released {
		screen.Stop()
		if webcam != nil {
			webcam.Stop()
		}
		return false, fmt.Errorf("%w: released during acquisition", ErrPermissionDenied)
	}

	a.screen = screen
	a.webcam = webcam
	a.webcamErr = webcamErr

	watchCtx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel

	go a.watchScreen(watchCtx, screen)

	return true, nil
}

// watchScreen turns the screen's external end into the termination signal.
func (a *Acquirer) watchScreen(ctx context.Context, screen *media.Source) {
	select {
	case <-ctx.Done():
	case <-screen.Ended():
		a.logger.Warn("screen source ended outside the application")
		a.termOnce.Do(func() { close(a.terminated) })
	}
}

// Terminated is closed when the screen source was ended externally.
func (a *Acquirer) Terminated() <-chan struct{} {
	return a.terminated
}

func (a *Acquirer) Screen() *media.Source {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.screen
}

// Webcam returns the webcam source, nil when it was not granted.
func (a *Acquirer) Webcam() *media.Source {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.webcam
}

// WebcamErr returns why the webcam is missing, nil when it was granted.
func (a *Acquirer) WebcamErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.webcamErr
}

// Release stops the termination watcher and every held source.
func (a *Acquirer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.released = true

	if a.stopWatch != nil {
		a.stopWatch()
	}

	if a.screen != nil {
		a.screen.Stop()
	}

	if a.webcam != nil {
		a.webcam.Stop()
	}
}
