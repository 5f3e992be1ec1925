package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/compositor"
	"github.com/OmGuptaIND/rekordr/devices"
	"github.com/OmGuptaIND/rekordr/guardian"
	"github.com/OmGuptaIND/rekordr/media"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateReady      State = "ready"
	StateRecording  State = "recording"
	StatePaused     State = "paused"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Uploader stores a finished artifact and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, artifact *recorder.Artifact, id string, onProgress func(percent float64)) (string, error)
}

// Spool keeps chunks on disk while a session records.
type Spool interface {
	Append(sessionID string, format recorder.Format, c recorder.Chunk) error
	Discard(sessionID string) error
}

type Options struct {
	Logger  *zap.Logger
	Devices devices.MediaDevices
	Encoder recorder.Encoder

	Uploader Uploader
	Spool    Spool

	SkipWebcam bool

	Compositor compositor.Options

	// Recorder timings, zero means the recorder default.
	Timeslice   time.Duration
	FlushGrace  time.Duration
	StopTimeout time.Duration
}

// Result is what a completed session produced.
type Result struct {
	SessionID string
	VideoID   string
	Artifact  *recorder.Artifact
	Duration  time.Duration
	Forced    bool
	URL       string
}

// Status is a point-in-time view of the engine.
type Status struct {
	SessionID   string        `json:"sessionId,omitempty"`
	State       State         `json:"state"`
	Mode        string        `json:"mode"`
	Duration    time.Duration `json:"duration"`
	Chunks      int           `json:"chunks"`
	Bytes       int64         `json:"bytes"`
	Webcam      bool          `json:"webcam"`
	WebcamError string        `json:"webcamError,omitempty"`
	VideoID     string        `json:"videoId,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type session struct {
	id    string
	state State

	ctx    context.Context
	cancel context.CancelFunc

	acquirer   *devices.Acquirer
	compositor *compositor.Compositor
	recorder   *recorder.Recorder
	guardian   *guardian.Guardian

	done     chan struct{}
	doneOnce sync.Once
	result   *Result
	failure  *Failure
}

func (s *session) terminal() bool {
	return s.state == StateCompleted || s.state == StateFailed
}

func (s *session) outcome() (*Result, error) {
	if s.failure != nil {
		return nil, s.failure
	}

	return s.result, nil
}

// Engine runs one recording session at a time. Every transition, including the forced
// stop raised by the screen source ending, goes through the engine mutex.
type Engine struct {
	ID     string
	logger *zap.Logger
	opts   Options

	mu   sync.Mutex
	sess *session
}

func New(opts Options) *Engine {
	logger := opts.Logger

	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.New().String()

	return &Engine{
		ID:     id,
		logger: logger.Named("engine").With(zap.String("engineId", id)),
		opts:   opts,
	}
}

func (e *Engine) newSession() *session {
	id := uuid.New().String()
	logger := e.logger.With(zap.String("sessionId", id))
	ctx, cancel := context.WithCancel(context.Background())

	s := &session{
		id:     id,
		state:  StateIdle,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.acquirer = devices.NewAcquirer(e.opts.Devices, devices.AcquirerOptions{
		Logger:     logger,
		SkipWebcam: e.opts.SkipWebcam,
	})

	compOpts := e.opts.Compositor
	compOpts.Logger = logger
	s.compositor = compositor.New(compOpts)

	s.recorder = recorder.NewRecorder(recorder.Options{
		Logger:      logger,
		Encoder:     e.opts.Encoder,
		Timeslice:   e.opts.Timeslice,
		FlushGrace:  e.opts.FlushGrace,
		StopTimeout: e.opts.StopTimeout,
		OnChunk:     e.spoolChunk(s),
	})

	s.guardian = guardian.New(guardian.Options{Logger: logger})
	s.guardian.GuardRecorder(s.recorder)
	s.guardian.GuardLoop(s.compositor)

	return s
}

func (e *Engine) spoolChunk(s *session) func(recorder.Chunk) {
	if e.opts.Spool == nil {
		return nil
	}

	return func(c recorder.Chunk) {
		if err := e.opts.Spool.Append(s.id, s.recorder.Format(), c); err != nil {
			e.logger.Warn("failed to spool chunk", zap.String("sessionId", s.id), zap.Int("seq", c.Seq), zap.Error(err))
		}
	}
}

// Acquire requests the sources of a new session. Granted stays true for the rest of the session.
func (e *Engine) Acquire(ctx context.Context) (bool, error) {
	e.mu.Lock()

	sess := e.sess
	if sess == nil || sess.terminal() {
		sess = e.newSession()
		e.sess = sess
	}

	switch sess.state {
	case StateIdle:
	case StateAcquiring:
		e.mu.Unlock()
		return false, fmt.Errorf("%w: acquisition already in progress", ErrInvalidState)
	default:
		e.mu.Unlock()
		return true, nil
	}

	sess.state = StateAcquiring
	e.mu.Unlock()

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	granted, err := sess.acquirer.Acquire(actx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != sess || sess.state != StateAcquiring {
		sess.acquirer.Release()
		return false, ErrTornDown
	}

	if !granted {
		if err == nil {
			err = devices.ErrPermissionDenied
		}

		f := newFailure(KindPermissionDenied, err)
		e.terminateLocked(sess, nil, f)

		return false, f
	}

	sess.guardian.GuardSource(sess.acquirer.Screen())
	sess.guardian.GuardSource(sess.acquirer.Webcam())
	sess.state = StateReady

	go e.watch(sess)

	e.logger.Info("sources acquired",
		zap.String("sessionId", sess.id),
		zap.Bool("webcam", sess.acquirer.Webcam() != nil),
	)

	return true, nil
}

// watch turns the screen source ending into a forced stop.
func (e *Engine) watch(sess *session) {
	select {
	case <-sess.acquirer.Terminated():
		e.forceStop(sess)
	case <-sess.ctx.Done():
	}
}

// Start acquires if needed, composes the stream and starts recording.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	sess := e.sess
	needsAcquire := sess == nil || sess.terminal() || sess.state == StateIdle
	e.mu.Unlock()

	if needsAcquire {
		if _, err := e.Acquire(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sess = e.sess
	if sess == nil {
		return ErrTornDown
	}

	switch sess.state {
	case StateReady:
	case StateRecording, StatePaused:
		return nil
	default:
		return fmt.Errorf("%w: start while %s", ErrInvalidState, sess.state)
	}

	stream, err := sess.compositor.Compose(sess.acquirer.Screen(), sess.acquirer.Webcam())
	if err != nil {
		f := classify(err, false)
		e.terminateLocked(sess, nil, f)
		return f
	}

	sess.guardian.GuardStream(stream)

	if err := sess.recorder.Start(ctx, stream); err != nil {
		f := classify(err, false)
		e.terminateLocked(sess, nil, f)
		return f
	}

	sess.compositor.Start()
	sess.state = StateRecording

	e.logger.Info("recording", zap.String("sessionId", sess.id), zap.String("mode", string(sess.compositor.Mode())))

	return nil
}

// Pause is a no-op while paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || (sess.state != StateRecording && sess.state != StatePaused) {
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, e.stateLocked())
	}

	if err := sess.recorder.Pause(); err != nil {
		return err
	}

	sess.state = StatePaused

	return nil
}

// Resume is a no-op while recording.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || (sess.state != StateRecording && sess.state != StatePaused) {
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, e.stateLocked())
	}

	if err := sess.recorder.Resume(); err != nil {
		return err
	}

	sess.state = StateRecording

	return nil
}

// Stop finalizes the recording. It is a no-op without a session, returns the stored outcome
// once the session ended, and waits for an in-flight stop to finish.
func (e *Engine) Stop(ctx context.Context) (*Result, error) {
	e.mu.Lock()

	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return nil, nil
	}

	switch sess.state {
	case StateIdle, StateAcquiring, StateReady:
		e.endLocked(sess)
		e.mu.Unlock()
		return nil, nil

	case StateCompleted, StateFailed:
		res, err := sess.outcome()
		e.mu.Unlock()
		return res, err

	case StateFinalizing:
		e.mu.Unlock()

		select {
		case <-sess.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		return sess.outcome()
	}

	return e.finalize(ctx, sess, false)
}

// forceStop handles the screen source ending. Stops in progress or finished are left alone.
func (e *Engine) forceStop(sess *session) {
	e.mu.Lock()

	if e.sess != sess {
		e.mu.Unlock()
		return
	}

	switch sess.state {
	case StateRecording, StatePaused:
		e.logger.Warn("screen source ended, forcing stop", zap.String("sessionId", sess.id))

		if _, err := e.finalize(context.Background(), sess, true); err != nil {
			e.logger.Warn("forced stop failed", zap.String("sessionId", sess.id), zap.Error(err))
		}

		return

	case StateReady:
		e.logger.Warn("screen source ended before recording", zap.String("sessionId", sess.id))
		e.terminateLocked(sess, nil, newFailure(KindExternalCancellation, ErrExternalCancellation))
	}

	e.mu.Unlock()
}

// finalize must be called with e.mu held and returns with it released.
func (e *Engine) finalize(ctx context.Context, sess *session, forced bool) (*Result, error) {
	sess.state = StateFinalizing
	e.mu.Unlock()

	sess.compositor.Stop()

	var (
		artifact *recorder.Artifact
		err      error
	)

	if forced {
		artifact, err = sess.recorder.ForceStop(ctx)
	} else {
		artifact, err = sess.recorder.Stop(ctx)
	}

	duration := sess.recorder.Duration()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.terminateLocked(sess, nil, classify(err, forced))
	} else {
		e.terminateLocked(sess, &Result{
			SessionID: sess.id,
			VideoID:   fmt.Sprintf("video_%d", time.Now().UnixMilli()),
			Artifact:  artifact,
			Duration:  duration,
			Forced:    forced,
		}, nil)
	}

	return sess.outcome()
}

// terminateLocked records the outcome and runs the guardian.
func (e *Engine) terminateLocked(sess *session, res *Result, f *Failure) {
	sess.result = res
	sess.failure = f

	if f != nil {
		sess.state = StateFailed
	} else {
		sess.state = StateCompleted
	}

	e.releaseLocked(sess)

	if f != nil {
		e.logger.Warn("session failed", zap.String("sessionId", sess.id), zap.String("kind", string(f.Kind)), zap.Error(f.Err))
	} else {
		e.logger.Info("session completed",
			zap.String("sessionId", sess.id),
			zap.String("videoId", res.VideoID),
			zap.Int64("bytes", res.Artifact.Size()),
			zap.Duration("duration", res.Duration),
		)
	}

	sess.doneOnce.Do(func() { close(sess.done) })
}

// endLocked releases a session that never recorded and forgets it.
func (e *Engine) endLocked(sess *session) {
	e.releaseLocked(sess)

	if e.sess == sess {
		e.sess = nil
	}
}

// releaseLocked is the single teardown funnel of a session.
func (e *Engine) releaseLocked(sess *session) {
	sess.cancel()
	sess.acquirer.Release()

	if err := sess.guardian.Release(); err != nil {
		e.logger.Warn("failed to release session resources", zap.String("sessionId", sess.id), zap.Error(err))
	}
}

// Teardown releases every resource and drops the session whatever its state.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil {
		return
	}

	e.endLocked(sess)

	e.logger.Info("session torn down", zap.String("sessionId", sess.id), zap.String("state", string(sess.state)))
}

// StopAndUpload stops the session and hands the artifact to the uploader. The session is
// already terminal and released when the upload starts.
func (e *Engine) StopAndUpload(ctx context.Context, onProgress func(percent float64)) (*Result, error) {
	res, err := e.Stop(ctx)
	if err != nil {
		return nil, err
	}

	if res == nil {
		return nil, fmt.Errorf("%w: nothing recorded", ErrInvalidState)
	}

	if e.opts.Uploader == nil {
		return res, newFailure(KindUploadFailure, fmt.Errorf("%w: %w", ErrUploadFailure, ErrNoUploader))
	}

	if res.URL != "" {
		return res, nil
	}

	url, err := e.opts.Uploader.Upload(ctx, res.Artifact, res.VideoID, onProgress)
	if err != nil {
		return res, newFailure(KindUploadFailure, fmt.Errorf("%w: %w", ErrUploadFailure, err))
	}

	e.mu.Lock()
	res.URL = url
	e.mu.Unlock()

	if e.opts.Spool != nil {
		if err := e.opts.Spool.Discard(res.SessionID); err != nil {
			e.logger.Warn("failed to discard spool", zap.String("sessionId", res.SessionID), zap.Error(err))
		}
	}

	e.logger.Info("uploaded", zap.String("videoId", res.VideoID), zap.String("url", url))

	return res, nil
}

// WebcamPreview exposes the live webcam for display only.
func (e *Engine) WebcamPreview() (media.Preview, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil || e.sess.terminal() {
		return nil, false
	}

	webcam := e.sess.acquirer.Webcam()
	if webcam == nil || webcam.VideoTrack() == nil || !webcam.VideoTrack().Live() {
		return nil, false
	}

	return webcam.VideoTrack(), true
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	if e.sess == nil {
		return StateIdle
	}

	return e.sess.state
}

// Duration is the recorded time of the current session, pauses excluded.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return 0
	}

	if e.sess.result != nil {
		return e.sess.result.Duration
	}

	return e.sess.recorder.Duration()
}

// LiveTracks counts the tracks the current session still holds open.
func (e *Engine) LiveTracks() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return 0
	}

	return e.sess.guardian.LiveTracks()
}

// Draws is how many composite frames the current session drew.
func (e *Engine) Draws() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return 0
	}

	return e.sess.compositor.Draws()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State: e.stateLocked(),
		Mode:  string(e.opts.Compositor.Mode),
	}

	sess := e.sess
	if sess == nil {
		return st
	}

	st.SessionID = sess.id
	st.Mode = string(sess.compositor.Mode())
	st.Webcam = sess.acquirer.Webcam() != nil

	if err := sess.acquirer.WebcamErr(); err != nil && !errors.Is(err, context.Canceled) {
		st.WebcamError = err.Error()
	}

	switch {
	case sess.result != nil:
		st.Duration = sess.result.Duration
		st.Chunks = sess.result.Artifact.Chunks
		st.Bytes = sess.result.Artifact.Size()
		st.VideoID = sess.result.VideoID
	case sess.failure != nil:
		st.Error = sess.failure.Error()
	default:
		st.Duration = sess.recorder.Duration()
		st.Chunks = len(sess.recorder.Chunks())
		st.Bytes = sess.recorder.Size()
	}

	return st
}
