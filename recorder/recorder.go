package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/media"
	"go.uber.org/zap"
)

var (
	ErrEncodingUnsupported = errors.New("recorder: no supported encoding format")
	ErrNoDataCaptured      = errors.New("recorder: no data captured")
	ErrNotStarted          = errors.New("recorder: not started")
	ErrInvalidState        = errors.New("recorder: invalid state")
	ErrNoVideoTrack        = errors.New("recorder: stream has no video track")
	ErrHalted              = errors.New("recorder: halted")
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type Options struct {
	Logger  *zap.Logger
	Encoder Encoder

	Timeslice          time.Duration
	FlushGrace         time.Duration
	StopTimeout        time.Duration
	VideoBitsPerSecond int
	AudioBitsPerSecond int

	// OnChunk receives every accepted chunk in order.
	OnChunk func(Chunk)

	Clock func() time.Time
}

// run is the state of one Start..Stop cycle.
type run struct {
	format  Format
	data    chan struct{}
	stopped chan struct{}
	once    sync.Once
	encErr  error

	done     chan struct{}
	artifact *Artifact
	err      error
}

func (r *run) encoderStopped(err error) {
	r.once.Do(func() {
		r.encErr = err
		close(r.stopped)
	})
}

// Recorder drives an Encoder through idle, recording, paused, stopping and a terminal state.
type Recorder struct {
	logger  *zap.Logger
	opts    Options
	encoder Encoder

	mu       sync.Mutex
	state    State
	run      *run
	chunks   []Chunk
	size     int64
	artifact *Artifact
	err      error

	startedAt time.Time
	pausedAt  time.Time
	stoppedAt time.Time
	pausedFor time.Duration
}

func NewRecorder(opts Options) *Recorder {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Timeslice == 0 {
		opts.Timeslice = config.CHUNK_TIMESLICE
	}

	if opts.FlushGrace == 0 {
		opts.FlushGrace = config.FLUSH_GRACE
	}

	if opts.StopTimeout == 0 {
		opts.StopTimeout = config.STOP_TIMEOUT
	}

	if opts.VideoBitsPerSecond == 0 {
		opts.VideoBitsPerSecond = config.VIDEO_BITS_PER_SECOND
	}

	if opts.AudioBitsPerSecond == 0 {
		opts.AudioBitsPerSecond = config.AUDIO_BITS_PER_SECOND
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Recorder{
		logger:  logger.Named("recorder"),
		opts:    opts,
		encoder: opts.Encoder,
		state:   StateIdle,
	}
}

// Start selects a format and starts encoding the stream.
func (r *Recorder) Start(ctx context.Context, stream *media.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, r.state)
	}

	if stream == nil || len(stream.VideoTracks()) == 0 {
		return ErrNoVideoTrack
	}

	format, err := SelectFormat(r.encoder)
	if err != nil {
		r.state = StateFailed
		r.err = err
		return err
	}

	cur := &run{
		format:  format,
		data:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	cfg := EncoderConfig{
		Format:             format,
		Timeslice:          r.opts.Timeslice,
		VideoBitsPerSecond: r.opts.VideoBitsPerSecond,
		AudioBitsPerSecond: r.opts.AudioBitsPerSecond,
	}

	handlers := Handlers{
		OnData: func(data []byte) { r.accept(cur, data) },
		OnStop: cur.encoderStopped,
	}

	if err := r.encoder.Start(ctx, stream, cfg, handlers); err != nil {
		r.state = StateFailed
		r.err = fmt.Errorf("start encoder: %w", err)
		return r.err
	}

	r.run = cur
	r.state = StateRecording
	r.startedAt = r.opts.Clock()
	r.pausedFor = 0

	r.logger.Info("recording started",
		zap.String("mimeType", format.MimeType),
		zap.Duration("timeslice", r.opts.Timeslice),
	)

	return nil
}

func (r *Recorder) accept(cur *run, data []byte) {
	r.mu.Lock()

	if r.run != cur || len(data) == 0 {
		r.mu.Unlock()
		return
	}

	switch r.state {
	case StateRecording, StatePaused, StateStopping:
	default:
		r.mu.Unlock()
		return
	}

	chunk := Chunk{
		Seq:       len(r.chunks),
		Data:      append([]byte(nil), data...),
		CreatedAt: r.opts.Clock(),
	}

	r.chunks = append(r.chunks, chunk)
	r.size += int64(len(data))
	hook := r.opts.OnChunk

	select {
	case cur.data <- struct{}{}:
	default:
	}

	r.mu.Unlock()

	if hook != nil {
		hook(chunk)
	}
}

// Pause is a no-op while paused.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StatePaused:
		return nil
	case StateRecording:
	default:
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, r.state)
	}

	if err := r.encoder.Pause(); err != nil {
		return fmt.Errorf("pause encoder: %w", err)
	}

	r.state = StatePaused
	r.pausedAt = r.opts.Clock()

	return nil
}

// Resume is a no-op while recording.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRecording:
		return nil
	case StatePaused:
	default:
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, r.state)
	}

	if err := r.encoder.Resume(); err != nil {
		return fmt.Errorf("resume encoder: %w", err)
	}

	r.pausedFor += r.opts.Clock().Sub(r.pausedAt)
	r.state = StateRecording

	return nil
}

// Stop flushes the encoder, waits a short grace for the flushed data, halts it and
// assembles the artifact. Later calls return the same result.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	return r.stop(ctx, r.opts.FlushGrace)
}

// ForceStop is Stop without waiting for flushed data.
func (r *Recorder) ForceStop(ctx context.Context) (*Artifact, error) {
	return r.stop(ctx, 0)
}

func (r *Recorder) stop(ctx context.Context, grace time.Duration) (*Artifact, error) {
	r.mu.Lock()

	switch r.state {
	case StateIdle:
		r.mu.Unlock()
		return nil, ErrNotStarted

	case StateCompleted, StateFailed:
		artifact, err := r.artifact, r.err
		r.mu.Unlock()
		return artifact, err

	case StateStopping:
		cur := r.run
		r.mu.Unlock()

		select {
		case <-cur.done:
			return cur.artifact, cur.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if r.state == StatePaused {
		r.pausedFor += r.opts.Clock().Sub(r.pausedAt)
	}

	r.state = StateStopping
	r.stoppedAt = r.opts.Clock()
	cur := r.run

	select {
	case <-cur.data:
	default:
	}

	r.mu.Unlock()

	r.encoder.RequestData()

	if grace > 0 {
		t := time.NewTimer(grace)

		select {
		case <-cur.data:
		case <-t.C:
			r.logger.Debug("no data within flush grace", zap.Duration("grace", grace))
		case <-ctx.Done():
		}

		t.Stop()
	}

	if err := r.encoder.Stop(); err != nil {
		r.logger.Warn("failed to stop encoder", zap.Error(err))
	}

	t := time.NewTimer(r.opts.StopTimeout)

	select {
	case <-cur.stopped:
		if cur.encErr != nil {
			r.logger.Warn("encoder stopped with error", zap.Error(cur.encErr))
		}
	case <-t.C:
		r.logger.Warn("encoder did not report stop in time", zap.Duration("timeout", r.opts.StopTimeout))
	case <-ctx.Done():
	}

	t.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != cur {
		cur.err = ErrHalted
	} else {
		cur.artifact, cur.err = Assemble(r.chunks, cur.format)
		r.artifact, r.err = cur.artifact, cur.err

		if cur.err != nil {
			r.state = StateFailed
		} else {
			r.state = StateCompleted
		}

		r.logger.Info("recording stopped",
			zap.String("state", string(r.state)),
			zap.Int("chunks", len(r.chunks)),
			zap.Int64("bytes", r.size),
		)
	}

	close(cur.done)

	return cur.artifact, cur.err
}

// Halt stops an active encoder without producing an artifact.
func (r *Recorder) Halt() error {
	r.mu.Lock()

	switch r.state {
	case StateRecording, StatePaused:
		if r.state == StatePaused {
			r.pausedFor += r.opts.Clock().Sub(r.pausedAt)
		}

		r.state = StateFailed
		r.err = ErrHalted
		r.run = nil
		r.stoppedAt = r.opts.Clock()
	case StateStopping:
	default:
		r.mu.Unlock()
		return nil
	}

	r.mu.Unlock()

	return r.encoder.Stop()
}

// Reset drops every chunk and returns the recorder to idle.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateIdle
	r.run = nil
	r.chunks = nil
	r.size = 0
	r.artifact = nil
	r.err = nil
	r.startedAt = time.Time{}
	r.pausedAt = time.Time{}
	r.stoppedAt = time.Time{}
	r.pausedFor = 0
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Chunks returns a copy of the accepted chunks.
func (r *Recorder) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Chunk(nil), r.chunks...)
}

// Size is the total number of bytes accepted.
func (r *Recorder) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.size
}

// Format returns the selected format, zero before Start.
func (r *Recorder) Format() Format {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil {
		return Format{}
	}

	return r.run.format
}

// Duration is the recorded time, pauses excluded.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startedAt.IsZero() {
		return 0
	}

	var end time.Time

	switch r.state {
	case StateRecording:
		end = r.opts.Clock()
	case StatePaused:
		end = r.pausedAt
	default:
		end = r.stoppedAt
	}

	return end.Sub(r.startedAt) - r.pausedFor
}
