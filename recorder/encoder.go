package recorder

import (
	"context"

	"github.com/OmGuptaIND/rekordr/media"
)

// Handlers receive encoder output. OnData is called with each encoded fragment in order,
// OnStop once after the final fragment. The recorder copies every fragment, so an encoder
// may reuse its buffer once OnData returns.
type Handlers struct {
	OnData func(data []byte)
	OnStop func(err error)
}

// Encoder is the platform recording primitive driven by the Recorder.
// Handlers must not be invoked synchronously from Start. Stop is idempotent.
type Encoder interface {
	Supports(format Format) bool
	Start(ctx context.Context, stream *media.Stream, cfg EncoderConfig, h Handlers) error
	Pause() error
	Resume() error
	// RequestData asks the encoder to emit whatever it has buffered.
	RequestData()
	Stop() error
}
