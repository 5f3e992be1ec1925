package display

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DisplayOptions struct {
	Width  int
	Height int
	Depth  int

	Display string `yaml:"-"`
	Logger  *zap.Logger
}

// Display is a virtual X screen, optionally with a PulseAudio sink and a Chrome page on it.
// It acts as the screen source when recording a web page headlessly.
type Display struct {
	xvfb *exec.Cmd
	opts DisplayOptions

	logger     *zap.Logger
	sinkName   string
	sinkModule string
	mu         sync.RWMutex
	browsers   map[string]*chromeDisplay
}

type chromeDisplay struct {
	id           string
	chromeCtx    context.Context
	chromeCancel context.CancelFunc

	DisplayOptions
}

// NewDisplay initializes a new Display with the specified options.
func NewDisplay(opts DisplayOptions) *Display {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Display{
		opts:     opts,
		logger:   logger.Named("display"),
		browsers: make(map[string]*chromeDisplay),
	}
}

// GetDisplayId returns the X display the screen is served on.
func (d *Display) GetDisplayId() string {
	return d.opts.Display
}

func (d *Display) GetWidth() int {
	return d.opts.Width
}

func (d *Display) GetHeight() int {
	return d.opts.Height
}

// GetPulseMonitorId returns the monitor source of the display's sink, empty without a sink.
func (d *Display) GetPulseMonitorId() string {
	if d.sinkName == "" {
		return ""
	}

	return d.sinkName + ".monitor"
}

// Launch starts the Xvfb server, the Pulse sink and Chrome with the specified URL.
func (d *Display) Launch(url string) error {
	if err := d.LaunchXvfb(); err != nil {
		return err
	}

	if err := d.LaunchPulseSink(); err != nil {
		d.logger.Warn("pulse sink unavailable, page audio will not be captured", zap.Error(err))
	}

	if _, err := d.LaunchChrome(url); err != nil {
		return err
	}

	d.logger.Info("chrome launched", zap.String("url", url), zap.String("display", d.opts.Display))

	return nil
}

// LaunchXvfb launches the Xvfb server with the specified display.
func (d *Display) LaunchXvfb() error {
	if d.xvfb != nil {
		d.logger.Info("xvfb server is already running")
		return nil
	}

	d.logger.Info("starting xvfb server", zap.String("display", d.opts.Display))

	dims := fmt.Sprintf("%dx%dx%d", d.opts.Width, d.opts.Height, d.opts.Depth)
	xvfb := exec.Command("Xvfb", d.opts.Display, "-screen", "0", dims, "-ac", "-nolisten", "tcp")
	if err := xvfb.Start(); err != nil {
		return fmt.Errorf("failed to start xvfb: %w", err)
	}
	d.xvfb = xvfb

	// Xvfb takes a moment before it accepts clients.
	time.Sleep(500 * time.Millisecond)

	return nil
}

// LaunchPulseSink loads a null sink whose monitor carries the page audio.
func (d *Display) LaunchPulseSink() error {
	if d.sinkModule != "" {
		return nil
	}

	name := "rekordr_" + strings.ReplaceAll(strings.TrimPrefix(d.opts.Display, ":"), ".", "_")

	out, err := exec.Command("pactl", "load-module", "module-null-sink", "sink_name="+name).Output()

	if err != nil {
		return fmt.Errorf("failed to load pulse null sink: %w", err)
	}

	d.sinkName = name
	d.sinkModule = strings.TrimSpace(string(out))

	return nil
}

// LaunchChrome starts Chrome with the specified URL.
func (d *Display) LaunchChrome(url string) (*chromeDisplay, error) {
	d.logger.Info("launching chrome")
	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath("chromium"),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,

		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("force-color-profile", "srgb"),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),

		chromedp.Flag("kiosk", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("window-position", "0,0"),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", d.opts.Width, d.opts.Height)),
		chromedp.Flag("display", d.opts.Display),
	}

	if d.sinkName != "" {
		opts = append(opts, chromedp.Env("PULSE_SINK="+d.sinkName))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	ctx, cancel := chromedp.NewContext(allocCtx)

	var width, height int

	err := chromedp.Run(ctx, chromedp.Navigate(url), chromedp.Evaluate(`window.screen.width`, &width),
		chromedp.Evaluate(`window.screen.height`, &height))

	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}

	d.logger.Debug("chrome screen", zap.Int("width", width), zap.Int("height", height))

	chromeDisplay := &chromeDisplay{
		id:        uuid.New().String(),
		chromeCtx: ctx,
		chromeCancel: func() {
			cancel()
			allocCancel()
		},
		DisplayOptions: d.opts,
	}

	d.mu.Lock()
	d.browsers[chromeDisplay.id] = chromeDisplay
	d.mu.Unlock()

	go func() {
		<-chromeDisplay.chromeCtx.Done()
		d.logger.Info("chrome exited", zap.String("id", chromeDisplay.id))
		d.mu.Lock()
		delete(d.browsers, chromeDisplay.id)
		d.mu.Unlock()
	}()

	return chromeDisplay, nil
}

// Close stops Chrome, unloads the Pulse sink and stops the Xvfb server.
func (d *Display) Close() {
	d.logger.Info("closing display")

	d.mu.Lock()
	for id, browser := range d.browsers {
		browser.chromeCancel()
		delete(d.browsers, id)
	}
	d.mu.Unlock()

	if d.sinkModule != "" {
		if err := exec.Command("pactl", "unload-module", d.sinkModule).Run(); err != nil {
			d.logger.Warn("failed to unload pulse sink", zap.Error(err))
		}
		d.sinkModule = ""
		d.sinkName = ""
	}

	if d.xvfb != nil {
		if err := d.xvfb.Process.Signal(os.Interrupt); err != nil {
			d.logger.Warn("failed to stop xvfb server", zap.Error(err))
		}

		_ = d.xvfb.Wait()
		d.xvfb = nil
	}
}
