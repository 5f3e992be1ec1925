package config

import (
	"time"

	"github.com/OmGuptaIND/rekordr/display"
)

const RECORDING_DIR = "recordings"

// MAX_BUFFER_SIZE is the size of one multipart upload part, S3 rejects smaller non-final parts.
const MAX_BUFFER_SIZE = 5 * 1024 * 1024

var DEFAULT_DISPLAY_OPTS = display.DisplayOptions{
	Width:  1280,
	Height: 720,
	Depth:  24,
}

// Compositing surface and capture defaults.
const (
	SURFACE_WIDTH      = 1280
	SURFACE_HEIGHT     = 720
	SURFACE_FRAME_RATE = 30

	INSET_WIDTH  = 240
	INSET_HEIGHT = 180
	INSET_MARGIN = 20
	INSET_BORDER = 5

	WEBCAM_WIDTH  = 1280
	WEBCAM_HEIGHT = 720
)

// Recorder defaults.
const (
	CHUNK_TIMESLICE       = 250 * time.Millisecond
	FLUSH_GRACE           = 500 * time.Millisecond
	STOP_TIMEOUT          = 10 * time.Second
	VIDEO_BITS_PER_SECOND = 2_500_000
	AUDIO_BITS_PER_SECOND = 128_000
)

const UPLOAD_RETRY_BACKOFF = 2 * time.Second
