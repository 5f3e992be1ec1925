package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OmGuptaIND/rekordr/compositor"
	"github.com/OmGuptaIND/rekordr/devices"
	"github.com/OmGuptaIND/rekordr/devices/devicestest"
	"github.com/OmGuptaIND/rekordr/engine"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/OmGuptaIND/rekordr/recorder/recordertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualScheduler struct {
	mu      sync.Mutex
	next    int
	pending map[int]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: map[int]func(){}}
}

func (s *manualScheduler) Schedule(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.pending[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.pending, id)
	}
}

func (s *manualScheduler) Flush() int {
	s.mu.Lock()
	fns := s.pending
	s.pending = map[int]func(){}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	return len(fns)
}

type fakeUploader struct {
	mu       sync.Mutex
	err      error
	ids      []string
	sizes    []int64
	progress []float64
}

func (u *fakeUploader) Upload(_ context.Context, artifact *recorder.Artifact, id string, onProgress func(float64)) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.err != nil {
		return "", u.err
	}

	u.ids = append(u.ids, id)
	u.sizes = append(u.sizes, artifact.Size())

	for _, p := range []float64{50, 100} {
		u.progress = append(u.progress, p)
		if onProgress != nil {
			onProgress(p)
		}
	}

	return "https://videos.example.com/" + id + "." + artifact.Extension, nil
}

type fakeSpool struct {
	mu        sync.Mutex
	chunks    map[string]int
	discarded []string
}

func (s *fakeSpool) Append(sessionID string, _ recorder.Format, _ recorder.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chunks == nil {
		s.chunks = map[string]int{}
	}
	s.chunks[sessionID]++

	return nil
}

func (s *fakeSpool) Discard(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discarded = append(s.discarded, sessionID)

	return nil
}

type fixture struct {
	devices  *devicestest.FakeDevices
	encoder  *recordertest.FakeEncoder
	sched    *manualScheduler
	uploader *fakeUploader
	spool    *fakeSpool
	engine   *engine.Engine
}

func newFixture(t *testing.T, mutate ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		devices:  devicestest.NewFakeDevices(),
		encoder:  recordertest.NewFakeEncoder(),
		sched:    newManualScheduler(),
		uploader: &fakeUploader{},
		spool:    &fakeSpool{},
	}

	for _, m := range mutate {
		m(f)
	}

	f.engine = engine.New(engine.Options{
		Devices:  f.devices,
		Encoder:  f.encoder,
		Uploader: f.uploader,
		Spool:    f.spool,
		Compositor: compositor.Options{
			Mode:      compositor.ModePictureInPicture,
			Scheduler: f.sched,
		},
		FlushGrace:  10 * time.Millisecond,
		StopTimeout: 100 * time.Millisecond,
	})

	t.Cleanup(f.engine.Teardown)

	return f
}

func (f *fixture) allReleased(t *testing.T) {
	t.Helper()

	assert.Equal(t, 0, f.engine.LiveTracks())
	assert.Equal(t, 0, f.devices.LiveTracks())
	assert.False(t, f.encoder.Running())
}

func TestRecordThreeChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, engine.StateRecording, f.engine.State())

	f.encoder.EmitSize(1000)
	f.encoder.EmitSize(2000)
	f.encoder.EmitSize(1500)

	res, err := f.engine.Stop(ctx)

	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, f.engine.State())
	assert.Equal(t, int64(4500), res.Artifact.Size())
	assert.Equal(t, 3, res.Artifact.Chunks)
	assert.Equal(t, "video/webm;codecs=vp9,opus", res.Artifact.MimeType)
	assert.Regexp(t, `^video_\d+$`, res.VideoID)
	assert.False(t, res.Forced)
	assert.Equal(t, 3, f.spool.chunks[res.SessionID])
	f.allReleased(t)

	again, err := f.engine.Stop(ctx)
	require.NoError(t, err)
	assert.Same(t, res, again)
}

func TestImmediateStopFailsWithNoData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))

	res, err := f.engine.Stop(ctx)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, recorder.ErrNoDataCaptured)

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, engine.KindNoDataCaptured, failure.Kind)
	assert.NotEmpty(t, failure.Reason)

	assert.Equal(t, engine.StateFailed, f.engine.State())
	f.allReleased(t)
}

func TestWebcamFailureReachesReady(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.devices.WebcamErr = devices.ErrNotAllowed
	})

	granted, err := f.engine.Acquire(context.Background())

	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, engine.StateReady, f.engine.State())

	st := f.engine.Status()
	assert.False(t, st.Webcam)
	assert.NotEmpty(t, st.WebcamError)

	_, ok := f.engine.WebcamPreview()
	assert.False(t, ok)

	require.NoError(t, f.engine.Start(context.Background()))
	assert.Equal(t, engine.StateRecording, f.engine.State())
}

func TestScreenFailureNeverRecords(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.devices.ScreenErr = errors.New("picker dismissed")
	})

	granted, err := f.engine.Acquire(context.Background())

	assert.False(t, granted)
	assert.ErrorIs(t, err, devices.ErrPermissionDenied)

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, engine.KindPermissionDenied, failure.Kind)
	assert.Equal(t, engine.StateFailed, f.engine.State())

	err = f.engine.Start(context.Background())
	assert.ErrorIs(t, err, devices.ErrPermissionDenied)
	assert.NotEqual(t, engine.StateRecording, f.engine.State())

	starts, _, _, _, _ := f.encoder.Counts()
	assert.Equal(t, 0, starts)
	f.allReleased(t)
}

func TestEncodingUnsupportedReleases(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		for _, format := range recorder.Preferences {
			f.encoder.Unsupported[format.MimeType] = true
		}
	})

	err := f.engine.Start(context.Background())

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, engine.KindEncodingUnsupported, failure.Kind)
	assert.ErrorIs(t, err, recorder.ErrEncodingUnsupported)
	assert.Equal(t, engine.StateFailed, f.engine.State())
	f.allReleased(t)
}

func TestPauseResumeIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.Pause(), engine.ErrInvalidState)
	assert.ErrorIs(t, f.engine.Resume(), engine.ErrInvalidState)

	require.NoError(t, f.engine.Start(ctx))

	require.NoError(t, f.engine.Pause())
	require.NoError(t, f.engine.Pause())
	assert.Equal(t, engine.StatePaused, f.engine.State())

	require.NoError(t, f.engine.Resume())
	require.NoError(t, f.engine.Resume())
	assert.Equal(t, engine.StateRecording, f.engine.State())

	_, pauses, resumes, _, _ := f.encoder.Counts()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)
}

func TestExternalEndWithDataCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.encoder.EmitSize(700)
	f.encoder.EmitSize(300)

	f.devices.EndScreen()

	require.Eventually(t, func() bool {
		return f.engine.State() == engine.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	res, err := f.engine.Stop(ctx)

	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, 2, res.Artifact.Chunks)
	assert.Equal(t, int64(1000), res.Artifact.Size())
	f.allReleased(t)
}

func TestExternalEndWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.encoder.EmitSize(500)
	require.NoError(t, f.engine.Pause())

	f.devices.EndScreen()

	require.Eventually(t, func() bool {
		return f.engine.State() == engine.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)

	res, err := f.engine.Stop(ctx)

	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, int64(500), res.Artifact.Size())
	f.allReleased(t)
}

func TestExternalEndWithoutDataFails(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Pause())

	f.devices.EndScreen()

	require.Eventually(t, func() bool {
		return f.engine.State() == engine.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	_, err := f.engine.Stop(context.Background())

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, engine.KindExternalCancellation, failure.Kind)
	assert.ErrorIs(t, err, engine.ErrExternalCancellation)
	assert.ErrorIs(t, err, recorder.ErrNoDataCaptured)
	f.allReleased(t)
}

func TestExternalEndBeforeRecording(t *testing.T) {
	f := newFixture(t)

	granted, err := f.engine.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, granted)

	f.devices.EndScreen()

	require.Eventually(t, func() bool {
		return f.engine.State() == engine.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.engine.Stop(context.Background())
	assert.ErrorIs(t, err, engine.ErrExternalCancellation)
	f.allReleased(t)
}

func TestNoRedrawAfterStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))

	f.sched.Flush()
	f.sched.Flush()
	f.sched.Flush()
	assert.Equal(t, uint64(3), f.engine.Draws())

	f.encoder.EmitSize(10)
	_, err := f.engine.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, f.sched.Flush())
	assert.Equal(t, uint64(3), f.engine.Draws())
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Stop(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, engine.StateIdle, f.engine.State())
}

func TestStopBeforeRecordingReleases(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Acquire(context.Background())
	require.NoError(t, err)

	res, err := f.engine.Stop(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, engine.StateIdle, f.engine.State())
	assert.Equal(t, 0, f.devices.LiveTracks())
}

func TestTeardownWhileRecording(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Start(context.Background()))
	f.encoder.EmitSize(10)

	f.engine.Teardown()
	f.engine.Teardown()

	assert.Equal(t, engine.StateIdle, f.engine.State())
	assert.Equal(t, 0, f.devices.LiveTracks())
	assert.False(t, f.encoder.Running())
}

func TestWebcamPreviewIsReadOnlyView(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.Start(context.Background()))

	preview, ok := f.engine.WebcamPreview()
	require.True(t, ok)
	assert.True(t, preview.Live())

	frame, ok := preview.Frame()
	require.True(t, ok)
	assert.Equal(t, 16, frame.Bounds().Dx())
	assert.Equal(t, 16, preview.Settings().Width)

	f.encoder.EmitSize(1)
	_, err := f.engine.Stop(context.Background())
	require.NoError(t, err)

	_, ok = f.engine.WebcamPreview()
	assert.False(t, ok)
	assert.False(t, preview.Live())
}

func TestStopAndUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.encoder.EmitSize(4096)

	var progress []float64
	res, err := f.engine.StopAndUpload(ctx, func(p float64) { progress = append(progress, p) })

	require.NoError(t, err)
	assert.Equal(t, "https://videos.example.com/"+res.VideoID+".webm", res.URL)
	assert.Equal(t, []string{res.VideoID}, f.uploader.ids)
	assert.Equal(t, []int64{4096}, f.uploader.sizes)
	assert.Equal(t, []float64{50, 100}, progress)
	assert.Equal(t, []string{res.SessionID}, f.spool.discarded)
	f.allReleased(t)
}

func TestUploadFailureKeepsCompletedSession(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.uploader.err = errors.New("bucket does not exist")
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.encoder.EmitSize(10)

	res, err := f.engine.StopAndUpload(ctx, nil)

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, engine.KindUploadFailure, failure.Kind)
	assert.ErrorIs(t, err, engine.ErrUploadFailure)
	assert.Contains(t, failure.Reason, "bucket does not exist")

	require.NotNil(t, res)
	assert.Equal(t, engine.StateCompleted, f.engine.State())
	assert.Empty(t, f.spool.discarded)
	f.allReleased(t)
}

func TestStartAfterCompletionOpensNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	f.encoder.EmitSize(10)

	first, err := f.engine.Stop(ctx)
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, engine.StateRecording, f.engine.State())
	assert.NotEqual(t, first.SessionID, f.engine.Status().SessionID)
	assert.Len(t, f.devices.Screens, 2)
}
