package recorder_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OmGuptaIND/rekordr/media"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/OmGuptaIND/rekordr/recorder/recordertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func testStream() *media.Stream {
	video := media.NewVideoTrack("composite", media.Settings{Width: 64, Height: 36, FrameRate: 30})
	audio := media.NewAudioTrack("mic", media.Input{Format: "lavfi", Device: "anullsrc"})

	return media.NewStream(video, audio)
}

func newRecorder(enc recorder.Encoder) *recorder.Recorder {
	return recorder.NewRecorder(recorder.Options{
		Encoder:     enc,
		FlushGrace:  10 * time.Millisecond,
		StopTimeout: 100 * time.Millisecond,
	})
}

func TestStopAssemblesChunksInOrder(t *testing.T) {
	enc := recordertest.NewFakeEncoder()

	var seen []int
	rec := recorder.NewRecorder(recorder.Options{
		Encoder:    enc,
		FlushGrace: 10 * time.Millisecond,
		OnChunk:    func(c recorder.Chunk) { seen = append(seen, c.Seq) },
	})

	require.NoError(t, rec.Start(context.Background(), testStream()))
	assert.Equal(t, recorder.StateRecording, rec.State())

	enc.Emit(make([]byte, 1000))
	enc.Emit([]byte{})
	enc.Emit(make([]byte, 2000))
	enc.Emit(make([]byte, 1500))

	artifact, err := rec.Stop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4500), artifact.Size())
	assert.Equal(t, 3, artifact.Chunks)
	assert.Equal(t, "video/webm;codecs=vp9,opus", artifact.MimeType)
	assert.Equal(t, "webm", artifact.Extension)
	assert.Equal(t, recorder.StateCompleted, rec.State())
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.False(t, enc.Running())
}

func TestEncoderMayReuseBuffer(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))

	buf := []byte{1, 1, 1}
	enc.Emit(buf)

	for i := range buf {
		buf[i] = 9
	}
	enc.Emit(buf)
	buf[0] = 7

	chunks := rec.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{1, 1, 1}, chunks[0].Data)

	artifact, err := rec.Stop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 9, 9, 9}, artifact.Data)
}

func TestImmediateStopHasNoData(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))

	artifact, err := rec.Stop(context.Background())

	assert.Nil(t, artifact)
	assert.ErrorIs(t, err, recorder.ErrNoDataCaptured)
	assert.Equal(t, recorder.StateFailed, rec.State())

	_, _, _, requests, stops := enc.Counts()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, stops)
}

func TestStopWaitsForFlushedData(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	enc.FlushData = make([]byte, 300)

	rec := recorder.NewRecorder(recorder.Options{
		Encoder:    enc,
		FlushGrace: 5 * time.Second,
	})

	require.NoError(t, rec.Start(context.Background(), testStream()))

	started := time.Now()
	artifact, err := rec.Stop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(300), artifact.Size())
	assert.Less(t, time.Since(started), time.Second, "flushed data must end the grace wait")
}

func TestStopReturnsStoredResult(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))
	enc.EmitSize(10)

	first, err := rec.Stop(context.Background())
	require.NoError(t, err)

	second, err := rec.Stop(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)

	_, _, _, _, stops := enc.Counts()
	assert.Equal(t, 1, stops)
}

func TestConcurrentStopsShareResult(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	enc.SilentStop = true

	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))
	enc.EmitSize(10)

	var wg sync.WaitGroup
	results := make([]*recorder.Artifact, 2)
	errs := make([]error, 2)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rec.Stop(context.Background())
		}(i)
	}

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1])
}

func TestStopBeforeStart(t *testing.T) {
	rec := newRecorder(recordertest.NewFakeEncoder())

	_, err := rec.Stop(context.Background())

	assert.ErrorIs(t, err, recorder.ErrNotStarted)
	assert.False(t, errors.Is(err, recorder.ErrNoDataCaptured))
}

func TestPauseResumeIdempotence(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	assert.ErrorIs(t, rec.Pause(), recorder.ErrInvalidState)
	assert.ErrorIs(t, rec.Resume(), recorder.ErrInvalidState)

	require.NoError(t, rec.Start(context.Background(), testStream()))

	require.NoError(t, rec.Resume())
	require.NoError(t, rec.Pause())
	require.NoError(t, rec.Pause())
	assert.Equal(t, recorder.StatePaused, rec.State())
	assert.True(t, enc.Paused())

	require.NoError(t, rec.Resume())
	require.NoError(t, rec.Resume())
	assert.Equal(t, recorder.StateRecording, rec.State())

	_, pauses, resumes, _, _ := enc.Counts()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)

	enc.EmitSize(1)
	_, err := rec.Stop(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, rec.Pause(), recorder.ErrInvalidState)
	assert.ErrorIs(t, rec.Resume(), recorder.ErrInvalidState)
}

func TestStopWhilePaused(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))
	enc.EmitSize(64)
	require.NoError(t, rec.Pause())

	artifact, err := rec.Stop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(64), artifact.Size())
}

func TestFormatPreference(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	enc.Unsupported["video/webm;codecs=vp9,opus"] = true

	format, err := recorder.SelectFormat(enc)
	require.NoError(t, err)
	assert.Equal(t, "video/webm;codecs=vp8,opus", format.MimeType)

	enc.Unsupported["video/webm;codecs=vp8,opus"] = true
	enc.Unsupported["video/webm;codecs=vp8,vorbis"] = true

	format, err = recorder.SelectFormat(enc)
	require.NoError(t, err)
	assert.Equal(t, "video/x-matroska;codecs=avc1", format.MimeType)
	assert.Equal(t, "mkv", format.Extension)
}

func TestNoSupportedFormat(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	for _, f := range recorder.Preferences {
		enc.Unsupported[f.MimeType] = true
	}

	rec := newRecorder(enc)

	err := rec.Start(context.Background(), testStream())

	assert.ErrorIs(t, err, recorder.ErrEncodingUnsupported)
	assert.Equal(t, recorder.StateFailed, rec.State())

	starts, _, _, _, _ := enc.Counts()
	assert.Equal(t, 0, starts)
}

func TestEncoderConfig(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := recorder.NewRecorder(recorder.Options{Encoder: enc})

	require.NoError(t, rec.Start(context.Background(), testStream()))

	cfg := enc.Config()
	assert.Equal(t, 250*time.Millisecond, cfg.Timeslice)
	assert.Equal(t, 2_500_000, cfg.VideoBitsPerSecond)
	assert.Equal(t, 128_000, cfg.AudioBitsPerSecond)
}

func TestStartRequiresVideo(t *testing.T) {
	rec := newRecorder(recordertest.NewFakeEncoder())

	err := rec.Start(context.Background(), media.NewStream())

	assert.ErrorIs(t, err, recorder.ErrNoVideoTrack)
	assert.Equal(t, recorder.StateIdle, rec.State())
}

func TestStopTimesOutOnSilentEncoder(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	enc.SilentStop = true

	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))
	enc.EmitSize(5)
	enc.EmitSize(5)

	artifact, err := rec.ForceStop(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(10), artifact.Size())
}

func TestHaltAndReset(t *testing.T) {
	enc := recordertest.NewFakeEncoder()
	rec := newRecorder(enc)

	require.NoError(t, rec.Start(context.Background(), testStream()))
	enc.EmitSize(100)

	require.NoError(t, rec.Halt())
	assert.False(t, enc.Running())

	enc.EmitSize(100)
	assert.Equal(t, int64(100), rec.Size())

	_, err := rec.Stop(context.Background())
	assert.ErrorIs(t, err, recorder.ErrHalted)

	rec.Reset()
	assert.Equal(t, recorder.StateIdle, rec.State())
	assert.Empty(t, rec.Chunks())
	assert.Equal(t, int64(0), rec.Size())

	require.NoError(t, rec.Halt())
	require.NoError(t, rec.Start(context.Background(), testStream()))
}

func TestDurationExcludesPauses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	enc := recordertest.NewFakeEncoder()
	rec := recorder.NewRecorder(recorder.Options{
		Encoder:    enc,
		FlushGrace: time.Millisecond,
		Clock:      clock.Now,
	})

	assert.Zero(t, rec.Duration())

	require.NoError(t, rec.Start(context.Background(), testStream()))
	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, rec.Duration())

	require.NoError(t, rec.Pause())
	clock.Advance(10 * time.Second)
	assert.Equal(t, 3*time.Second, rec.Duration())

	require.NoError(t, rec.Resume())
	clock.Advance(2 * time.Second)
	assert.Equal(t, 5*time.Second, rec.Duration())

	enc.EmitSize(1)
	_, err := rec.Stop(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Equal(t, 5*time.Second, rec.Duration())
}

func TestAssembleRejectsEmpty(t *testing.T) {
	_, err := recorder.Assemble(nil, recorder.Preferences[0])
	assert.ErrorIs(t, err, recorder.ErrNoDataCaptured)

	_, err = recorder.Assemble([]recorder.Chunk{{Seq: 0}}, recorder.Preferences[0])
	assert.ErrorIs(t, err, recorder.ErrNoDataCaptured)

	artifact, err := recorder.Assemble([]recorder.Chunk{
		{Seq: 0, Data: []byte("ab")},
		{Seq: 1, Data: []byte("cd")},
	}, recorder.Preferences[0])

	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), artifact.Data)
}
