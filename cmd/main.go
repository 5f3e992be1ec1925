package main

import (
	"fmt"
	"os"

	"github.com/OmGuptaIND/rekordr/chunker"
	"github.com/OmGuptaIND/rekordr/cloud"
	"github.com/OmGuptaIND/rekordr/compositor"
	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/devices"
	"github.com/OmGuptaIND/rekordr/display"
	"github.com/OmGuptaIND/rekordr/engine"
	"github.com/OmGuptaIND/rekordr/env"
	"github.com/OmGuptaIND/rekordr/logger"
	"github.com/OmGuptaIND/rekordr/pkg"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/OmGuptaIND/rekordr/uploader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Dependencies are shared by every command.
type Dependencies struct {
	Logger   *zap.Logger
	Env      *env.Env
	Cloud    cloud.CloudClient
	Uploader *uploader.Uploader
	Spool    *chunker.Spool

	display *display.Display
}

func main() {
	deps := &Dependencies{}

	if err := NewRootCmd(deps).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rekordr",
		Short:        "Record the screen with a webcam overlay",
		Long:         "Captures a screen and an optional webcam, composites them, encodes the result in chunks and uploads the finished video.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			deps.close()
		},
	}

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewRecoverCmd(deps))
	rootCmd.AddCommand(NewFetchCmd(deps))

	return rootCmd
}

func (d *Dependencies) load() error {
	e, err := env.LoadEnvironmentVariables()
	if err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}

	d.Env = e
	d.Logger = logger.New(logger.LoggerOpts{
		Level:       e.LogLevel,
		Development: env.IsDevelopment(),
	})

	d.Cloud, err = cloud.NewClient(cloud.ClientOptions{
		Logger:   d.Logger,
		Provider: env.GetStorageProvider(),
		Bucket: cloud.BucketOptions{
			Name:     env.GetBucketName(),
			Endpoint: env.GetBucketEndpoint(),
			Region:   env.GetBucketRegion(),
			KeyID:    env.GetBucketKeyId(),
			AppKey:   env.GetBucketAppKey(),
		},
		LocalDir: e.LocalStorageDir,
		BaseURL:  e.LocalStorageBaseUrl,
	})
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}

	d.Uploader = uploader.NewUploader(uploader.Options{
		Logger:       d.Logger,
		Client:       d.Cloud,
		PartSize:     config.MAX_BUFFER_SIZE,
		Workers:      5,
		MaxRetries:   3,
		RetryBackoff: config.UPLOAD_RETRY_BACKOFF,
	})

	d.Spool, err = chunker.NewSpool(chunker.SpoolOptions{Logger: d.Logger, Dir: e.SpoolDir})
	if err != nil {
		return fmt.Errorf("creating spool: %w", err)
	}

	return nil
}

// launchScreen starts the headless display when a page is configured as the screen.
func (d *Dependencies) launchScreen() error {
	if d.Env.ScreenUrl == "" || d.display != nil {
		return nil
	}

	opts := config.DEFAULT_DISPLAY_OPTS
	opts.Display = pkg.RandomDisplay()
	opts.Logger = d.Logger

	disp := display.NewDisplay(opts)

	if err := disp.Launch(d.Env.ScreenUrl); err != nil {
		disp.Close()
		return fmt.Errorf("launching screen page: %w", err)
	}

	d.display = disp

	return nil
}

func (d *Dependencies) close() {
	if d.display != nil {
		d.display.Close()
		d.display = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}

func (d *Dependencies) screen() (id string, width int, height int, audio string) {
	if d.display != nil {
		return d.display.GetDisplayId(), d.display.GetWidth(), d.display.GetHeight(), d.display.GetPulseMonitorId()
	}

	return d.Env.ScreenDisplay, config.DEFAULT_DISPLAY_OPTS.Width, config.DEFAULT_DISPLAY_OPTS.Height, d.Env.SystemAudioSource
}

// NewEngine builds an engine on the local capture devices and ffmpeg.
func (d *Dependencies) NewEngine(mode string, skipWebcam bool) *engine.Engine {
	if mode == "" {
		mode = d.Env.CompositeMode
	}

	m, err := compositor.ParseMode(mode)
	if err != nil {
		d.Logger.Warn("unknown composite mode, using picture in picture", zap.String("mode", mode))
		m = compositor.ModePictureInPicture
	}

	id, width, height, audio := d.screen()

	return engine.New(engine.Options{
		Logger: d.Logger,
		Devices: devices.NewFFmpegDevices(devices.FFmpegDevicesOptions{
			Logger:       d.Logger,
			FFmpegPath:   d.Env.FFmpegPath,
			Display:      id,
			ScreenWidth:  width,
			ScreenHeight: height,
			SystemAudio:  audio,
			WebcamDevice: d.Env.WebcamDevice,
			Microphone:   d.Env.MicrophoneSource,
		}),
		Encoder: recorder.NewFFmpegEncoder(recorder.FFmpegEncoderOptions{
			Logger:     d.Logger,
			FFmpegPath: d.Env.FFmpegPath,
		}),
		Uploader:   d.Uploader,
		Spool:      d.Spool,
		SkipWebcam: skipWebcam,
		Compositor: compositor.Options{Mode: m},
	})
}
