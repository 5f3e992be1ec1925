package devices

import (
	"context"
	"errors"

	"github.com/OmGuptaIND/rekordr/media"
)

var (
	// ErrPermissionDenied means the mandatory screen source could not be acquired.
	ErrPermissionDenied = errors.New("screen capture permission denied")

	// ErrOptionalSourceUnavailable means the webcam could not be acquired, recording continues screen-only.
	ErrOptionalSourceUnavailable = errors.New("webcam unavailable")

	// ErrNotAllowed is returned by platforms when the user or the OS refused access.
	ErrNotAllowed = errors.New("not allowed")

	// ErrNotFound is returned by platforms when no matching device exists.
	ErrNotFound = errors.New("device not found")
)

// Constraints select what a source request asks for.
type Constraints struct {
	Video bool
	Audio bool

	Width     int
	Height    int
	FrameRate int
}

// MediaDevices is the platform that grants capture sources.
// Both calls may block until the user answers a permission prompt.
type MediaDevices interface {
	GetDisplayMedia(ctx context.Context, c Constraints) (*media.Source, error)
	GetUserMedia(ctx context.Context, c Constraints) (*media.Source, error)
}
