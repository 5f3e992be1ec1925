package chunker_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OmGuptaIND/rekordr/chunker"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webm = recorder.Preferences[0]

func chunk(seq int, data string) recorder.Chunk {
	return recorder.Chunk{Seq: seq, Data: []byte(data), CreatedAt: time.Now()}
}

func TestSpoolAppendAndRecover(t *testing.T) {
	dir := t.TempDir()

	s, err := chunker.NewSpool(chunker.SpoolOptions{Dir: dir})
	require.NoError(t, err)

	for i, data := range []string{"one-", "two-", "three"} {
		require.NoError(t, s.Append("sess-1", webm, chunk(i+1, data)))
	}

	assert.FileExists(t, filepath.Join(dir, "sess-1", "chunk_00002.webm"))
	assert.FileExists(t, filepath.Join(dir, "sess-1", "session.json"))

	artifact, err := s.Recover("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "one-two-three", string(artifact.Data))
	assert.Equal(t, webm.MimeType, artifact.MimeType)
	assert.Equal(t, "webm", artifact.Extension)
	assert.Equal(t, 3, artifact.Chunks)
}

func TestSpoolRecoversInSequenceOrder(t *testing.T) {
	s, err := chunker.NewSpool(chunker.SpoolOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, s.Append("sess", webm, chunk(10, "c")))
	require.NoError(t, s.Append("sess", webm, chunk(2, "b")))
	require.NoError(t, s.Append("sess", webm, chunk(1, "a")))

	artifact, err := s.Recover("sess")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(artifact.Data))
}

func TestSpoolDiscard(t *testing.T) {
	dir := t.TempDir()

	s, err := chunker.NewSpool(chunker.SpoolOptions{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, s.Append("gone", webm, chunk(1, "x")))
	require.NoError(t, s.Discard("gone"))
	require.NoError(t, s.Discard("never-existed"))

	_, err = os.Stat(filepath.Join(dir, "gone"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Recover("gone")
	assert.ErrorIs(t, err, chunker.ErrUnknownSession)
}

func TestSpoolRecoverAll(t *testing.T) {
	dir := t.TempDir()

	s, err := chunker.NewSpool(chunker.SpoolOptions{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, s.Append("a", webm, chunk(1, "aaa")))
	require.NoError(t, s.Append("b", recorder.Preferences[3], chunk(1, "bb")))
	require.NoError(t, s.Append("empty", webm, chunk(1, "")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stray"), 0o755))

	ids, err := s.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "empty"}, ids)

	all, err := s.RecoverAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mkv", all["b"].Extension)
	assert.Equal(t, int64(3), all["a"].Size())
}
