package pkg_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/OmGuptaIND/rekordr/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomDisplay(t *testing.T) {
	assert.Regexp(t, `^:\d{3,4}$`, pkg.RandomDisplay())
}

func TestPickDisplaySkipsLockedDisplays(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, ":142", pkg.PickDisplay(dir, 42))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X142-lock"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X143-lock"), nil, 0o644))

	assert.Equal(t, ":144", pkg.PickDisplay(dir, 42))
	assert.Equal(t, ":100", pkg.PickDisplay(dir, 1000))
	assert.Equal(t, ":105", pkg.PickDisplay(dir, -5))
}

func TestPickDisplayWrapsAround(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X1099-lock"), nil, 0o644))

	assert.Equal(t, ":100", pkg.PickDisplay(dir, 999))
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, pkg.IsShutdown(syscall.SIGINT))
	assert.True(t, pkg.IsShutdown(syscall.SIGTERM))
	assert.False(t, pkg.IsShutdown(syscall.SIGHUP))
}

func TestWaitForShutdownIgnoresHangup(t *testing.T) {
	sig := make(chan os.Signal, 2)
	sig <- syscall.SIGHUP
	sig <- syscall.SIGTERM

	assert.Equal(t, syscall.SIGTERM, pkg.WaitForShutdown(context.Background(), sig))
}

func TestWaitForShutdownEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Nil(t, pkg.WaitForShutdown(ctx, make(chan os.Signal)))
}

func TestHandleSignal(t *testing.T) {
	sig := pkg.HandleSignal()

	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, p.Signal(syscall.SIGHUP))

	select {
	case got := <-sig:
		assert.Equal(t, syscall.SIGHUP, got)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not delivered")
	}
}
