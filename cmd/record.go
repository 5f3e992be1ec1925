package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OmGuptaIND/rekordr/engine"
	"github.com/OmGuptaIND/rekordr/pkg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type recordOptions struct {
	mode     string
	noWebcam bool
	duration time.Duration
	upload   bool
	out      string
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	opts := recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record in the foreground until interrupted",
		Long:  "Records the screen with the webcam overlay until Ctrl+C, the duration elapses or the screen source ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, deps, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Composite mode, pip or mux")
	cmd.Flags().BoolVar(&opts.noWebcam, "no-webcam", false, "Record the screen only")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long, 0 records until interrupted")
	cmd.Flags().BoolVarP(&opts.upload, "upload", "u", false, "Upload the video to storage")
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "Directory the video is written to")

	return cmd
}

func runRecord(cmd *cobra.Command, deps *Dependencies, opts recordOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	defer deps.close()

	if err := deps.launchScreen(); err != nil {
		return err
	}

	e := deps.NewEngine(opts.mode, opts.noWebcam)
	defer e.Teardown()

	if err := e.Start(ctx); err != nil {
		return err
	}

	status := e.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Recording %s (mode %s, webcam %t). Press Ctrl+C to stop.\n", status.SessionID, status.Mode, status.Webcam)

	waitForStop(ctx, deps, e, opts.duration)

	var (
		res *engine.Result
		err error
	)

	if opts.upload {
		res, err = e.StopAndUpload(ctx, func(percent float64) {
			fmt.Fprintf(cmd.OutOrStdout(), "\rUploading %5.1f%%", percent)
		})
		fmt.Fprintln(cmd.OutOrStdout())
	} else {
		res, err = e.Stop(ctx)
	}

	if res == nil {
		if err == nil {
			err = fmt.Errorf("nothing was recorded")
		}
		return err
	}

	path := filepath.Join(opts.out, fmt.Sprintf("%s.%s", res.VideoID, res.Artifact.Extension))

	if werr := os.WriteFile(path, res.Artifact.Data, 0o644); werr != nil {
		return fmt.Errorf("writing %s: %w", path, werr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes, %s)\n", path, res.Artifact.Size(), res.Duration.Round(time.Millisecond))

	if res.URL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded to %s\n", res.URL)
	}

	return err
}

// waitForStop blocks until a signal, the duration or the session ending on its own.
func waitForStop(ctx context.Context, deps *Dependencies, e *engine.Engine, d time.Duration) {
	sig := pkg.HandleSignal()

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case val := <-sig:
			if pkg.IsShutdown(val) {
				deps.Logger.Info("stopping", zap.String("signal", val.String()))
				return
			}
		case <-timeout:
			return
		case <-ticker.C:
			if s := e.State(); s == engine.StateCompleted || s == engine.StateFailed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
