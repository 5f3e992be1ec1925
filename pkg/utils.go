package pkg

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// X display numbers below this are left to real screens.
	firstVirtualDisplay = 100
	virtualDisplaySpan  = 1000

	// X servers hold /tmp/.X<n>-lock while they own display n.
	xLockDir = "/tmp"
)

// HandleSignal delivers interrupt, terminate and hangup signals on the returned channel.
func HandleSignal() chan os.Signal {
	signalChan := make(chan os.Signal, 20)
	signal.Notify(
		signalChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)

	return signalChan
}

// IsShutdown reports whether sig asks a running recording to stop. Hangup is ignored.
func IsShutdown(sig os.Signal) bool {
	return sig == syscall.SIGINT || sig == syscall.SIGTERM
}

// WaitForShutdown blocks until a shutdown signal arrives on sig or ctx ends, in which case it returns nil.
func WaitForShutdown(ctx context.Context, sig <-chan os.Signal) os.Signal {
	for {
		select {
		case val := <-sig:
			if IsShutdown(val) {
				return val
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// RandomDisplay picks a free X display for the virtual screen.
func RandomDisplay() string {
	return PickDisplay(xLockDir, time.Now().Nanosecond()+os.Getpid())
}

// PickDisplay returns the first display from seed whose X lock file is absent in lockDir.
// It falls back to the seeded display when every candidate is taken.
func PickDisplay(lockDir string, seed int) string {
	if seed < 0 {
		seed = -seed
	}

	start := seed % virtualDisplaySpan

	for i := 0; i < virtualDisplaySpan; i++ {
		n := firstVirtualDisplay + (start+i)%virtualDisplaySpan

		if _, err := os.Stat(filepath.Join(lockDir, fmt.Sprintf(".X%d-lock", n))); os.IsNotExist(err) {
			return fmt.Sprintf(":%d", n)
		}
	}

	return fmt.Sprintf(":%d", firstVirtualDisplay+start)
}
