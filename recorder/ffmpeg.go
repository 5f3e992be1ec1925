package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sys/unix"
)

type FFmpegEncoderOptions struct {
	Logger     *zap.Logger
	FFmpegPath string
}

// FFmpegEncoder encodes a stream with an ffmpeg child process. Video frames go in as raw RGBA
// on stdin, audio is captured by ffmpeg from the tracks' inputs, the container comes out on stdout.
type FFmpegEncoder struct {
	logger *zap.Logger
	path   string

	probeOnce sync.Once
	encoders  map[string]bool

	mu  sync.Mutex
	cur *ffmpegRun
}

type ffmpegRun struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	handlers Handlers
	stderr   *bytes.Buffer

	quit  chan struct{}
	flush chan struct{}

	bufMu sync.Mutex
	buf   bytes.Buffer

	mu       sync.Mutex
	paused   bool
	stopping bool
	kill     *time.Timer
}

func NewFFmpegEncoder(opts FFmpegEncoderOptions) *FFmpegEncoder {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	path := opts.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	return &FFmpegEncoder{
		logger: logger.Named("ffmpeg-encoder"),
		path:   path,
	}
}

// Supports reports whether this ffmpeg build has both codecs of the format.
func (e *FFmpegEncoder) Supports(format Format) bool {
	e.probeOnce.Do(e.probe)

	return e.encoders[format.VideoCodec] && e.encoders[format.AudioCodec]
}

func (e *FFmpegEncoder) probe() {
	e.encoders = map[string]bool{}

	out, err := exec.Command(e.path, "-hide_banner", "-encoders").Output()
	if err != nil {
		e.logger.Error("failed to list ffmpeg encoders", zap.Error(err))
		return
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			e.encoders[fields[1]] = true
		}
	}
}

func (e *FFmpegEncoder) args(video *media.VideoTrack, audio []*media.AudioTrack, cfg EncoderConfig) []string {
	s := video.Settings()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", strconv.Itoa(s.FrameRate),
		"-i", "pipe:0",
	}

	for _, a := range audio {
		in := a.Input()
		args = append(args, "-f", in.Format, "-i", in.Device)
	}

	switch len(audio) {
	case 0:
		args = append(args, "-map", "0:v")
	case 1:
		args = append(args, "-map", "0:v", "-map", "1:a")
	default:
		var inputs strings.Builder
		for i := range audio {
			fmt.Fprintf(&inputs, "[%d:a]", i+1)
		}

		filter := fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0[aout]", inputs.String(), len(audio))
		args = append(args, "-filter_complex", filter, "-map", "0:v", "-map", "[aout]")
	}

	args = append(args,
		"-c:v", cfg.Format.VideoCodec,
		"-b:v", strconv.Itoa(cfg.VideoBitsPerSecond),
		"-pix_fmt", "yuv420p",
	)

	switch cfg.Format.VideoCodec {
	case "libvpx", "libvpx-vp9":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	case "libx264":
		args = append(args, "-preset", "veryfast", "-tune", "zerolatency")
	}

	if len(audio) > 0 {
		args = append(args,
			"-c:a", cfg.Format.AudioCodec,
			"-b:a", strconv.Itoa(cfg.AudioBitsPerSecond),
		)
	}

	return append(args, "-f", cfg.Format.Container, "pipe:1")
}

func (e *FFmpegEncoder) Start(ctx context.Context, stream *media.Stream, cfg EncoderConfig, h Handlers) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur != nil {
		return errors.New("ffmpeg encoder already running")
	}

	videos := stream.VideoTracks()
	if len(videos) == 0 {
		return ErrNoVideoTrack
	}

	video := videos[0]
	s := video.Settings()

	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", s.Width, s.Height)
	}

	if s.FrameRate <= 0 {
		s.FrameRate = config.SURFACE_FRAME_RATE
	}

	if cfg.Timeslice <= 0 {
		cfg.Timeslice = config.CHUNK_TIMESLICE
	}

	cmd := exec.Command(e.path, e.args(video, stream.AudioTracks(), cfg)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	cur := &ffmpegRun{
		cmd:      cmd,
		stdin:    stdin,
		handlers: h,
		stderr:   stderr,
		quit:     make(chan struct{}),
		flush:    make(chan struct{}, 1),
	}

	e.cur = cur

	readDone := make(chan struct{})

	go e.feed(cur, video, image.Pt(s.Width, s.Height), s.FrameRate)
	go e.read(cur, stdout, readDone)
	go e.pump(cur, cfg.Timeslice, readDone)

	e.logger.Info("ffmpeg encoder started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("mimeType", cfg.Format.MimeType),
		zap.Int("audioInputs", len(stream.AudioTracks())),
	)

	return nil
}

// feed writes the latest video frame to ffmpeg once per frame interval.
func (e *FFmpegEncoder) feed(cur *ffmpegRun, video *media.VideoTrack, size image.Point, fps int) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	scaled := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))

	for {
		select {
		case <-cur.quit:
			return
		case <-ticker.C:
		}

		if cur.isPaused() {
			continue
		}

		img, ok := video.Frame()
		if !ok {
			continue
		}

		pix := scaled.Pix

		if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds() == scaled.Bounds() && rgba.Stride == 4*size.X {
			pix = rgba.Pix
		} else {
			draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		}

		if _, err := cur.stdin.Write(pix); err != nil {
			e.logger.Debug("frame feed ended", zap.Error(err))
			return
		}
	}
}

func (e *FFmpegEncoder) read(cur *ffmpegRun, stdout io.Reader, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 32*1024)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			cur.bufMu.Lock()
			cur.buf.Write(buf[:n])
			cur.bufMu.Unlock()
		}

		if err != nil {
			if err != io.EOF {
				e.logger.Warn("failed to read ffmpeg output", zap.Error(err))
			}
			return
		}
	}
}

// pump delivers buffered output every timeslice or on request, then reports the stop.
func (e *FFmpegEncoder) pump(cur *ffmpegRun, timeslice time.Duration, readDone <-chan struct{}) {
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.deliver(cur)
		case <-cur.flush:
			e.deliver(cur)
		case <-readDone:
			e.deliver(cur)

			err := cur.cmd.Wait()

			cur.mu.Lock()
			if cur.kill != nil {
				cur.kill.Stop()
			}
			stopping := cur.stopping
			cur.mu.Unlock()

			if err != nil && stopping && cur.stderr.Len() == 0 {
				err = nil
			} else if err != nil {
				err = fmt.Errorf("ffmpeg exited: %w: %s", err, strings.TrimSpace(cur.stderr.String()))
			}

			e.mu.Lock()
			if e.cur == cur {
				e.cur = nil
			}
			e.mu.Unlock()

			e.logger.Info("ffmpeg encoder exited", zap.Error(err))

			if cur.handlers.OnStop != nil {
				cur.handlers.OnStop(err)
			}

			return
		}
	}
}

func (e *FFmpegEncoder) deliver(cur *ffmpegRun) {
	cur.bufMu.Lock()
	if cur.buf.Len() == 0 {
		cur.bufMu.Unlock()
		return
	}

	data := make([]byte, cur.buf.Len())
	copy(data, cur.buf.Bytes())
	cur.buf.Reset()
	cur.bufMu.Unlock()

	if cur.handlers.OnData != nil {
		cur.handlers.OnData(data)
	}
}

func (e *FFmpegEncoder) current() *ffmpegRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cur
}

func (r *ffmpegRun) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.paused
}

// Pause freezes the ffmpeg process.
func (e *FFmpegEncoder) Pause() error {
	cur := e.current()
	if cur == nil {
		return nil
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()

	if cur.paused || cur.stopping {
		return nil
	}

	if err := cur.cmd.Process.Signal(unix.SIGSTOP); err != nil {
		return fmt.Errorf("failed to pause ffmpeg: %w", err)
	}

	cur.paused = true

	return nil
}

func (e *FFmpegEncoder) Resume() error {
	cur := e.current()
	if cur == nil {
		return nil
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()

	if !cur.paused {
		return nil
	}

	if err := cur.cmd.Process.Signal(unix.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume ffmpeg: %w", err)
	}

	cur.paused = false

	return nil
}

func (e *FFmpegEncoder) RequestData() {
	cur := e.current()
	if cur == nil {
		return
	}

	select {
	case cur.flush <- struct{}{}:
	default:
	}
}

// Stop closes ffmpeg's input so it finalises the container, killing it if it does not exit in time.
func (e *FFmpegEncoder) Stop() error {
	cur := e.current()
	if cur == nil {
		return nil
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()

	if cur.stopping {
		return nil
	}

	cur.stopping = true

	if cur.paused {
		if err := cur.cmd.Process.Signal(unix.SIGCONT); err != nil {
			e.logger.Warn("failed to continue ffmpeg before stop", zap.Error(err))
		}
		cur.paused = false
	}

	close(cur.quit)

	cur.kill = time.AfterFunc(config.STOP_TIMEOUT, func() {
		e.logger.Warn("ffmpeg didn't exit in time, force killing...")
		if err := cur.cmd.Process.Kill(); err != nil {
			e.logger.Error("failed to kill ffmpeg", zap.Error(err))
		}
	})

	if err := cur.stdin.Close(); err != nil {
		return fmt.Errorf("failed to close ffmpeg stdin: %w", err)
	}

	return nil
}
