package engine

import (
	"errors"
	"fmt"

	"github.com/OmGuptaIND/rekordr/compositor"
	"github.com/OmGuptaIND/rekordr/devices"
	"github.com/OmGuptaIND/rekordr/recorder"
)

var (
	ErrExternalCancellation = errors.New("engine: screen source ended outside the application")
	ErrUploadFailure        = errors.New("engine: upload failed")
	ErrInvalidState         = errors.New("engine: invalid state")
	ErrTornDown             = errors.New("engine: session torn down")
	ErrNoUploader           = errors.New("engine: no uploader configured")
)

type Kind string

const (
	KindPermissionDenied     Kind = "permission_denied"
	KindEncodingUnsupported  Kind = "encoding_unsupported"
	KindNoDataCaptured       Kind = "no_data_captured"
	KindExternalCancellation Kind = "external_cancellation"
	KindUploadFailure        Kind = "upload_failure"
	KindRecorder             Kind = "recorder_error"
)

// Failure is the typed error of a session that ended badly. Resources are already
// released when a Failure is returned.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(kind Kind, err error) *Failure {
	return &Failure{
		Kind:   kind,
		Reason: err.Error(),
		Err:    err,
	}
}

// classify maps a start or stop error onto a failure kind.
func classify(err error, forced bool) *Failure {
	switch {
	case forced && errors.Is(err, recorder.ErrNoDataCaptured):
		return newFailure(KindExternalCancellation, fmt.Errorf("%w: %w", ErrExternalCancellation, err))
	case errors.Is(err, recorder.ErrNoDataCaptured):
		return newFailure(KindNoDataCaptured, err)
	case errors.Is(err, recorder.ErrEncodingUnsupported):
		return newFailure(KindEncodingUnsupported, err)
	case errors.Is(err, devices.ErrPermissionDenied), errors.Is(err, compositor.ErrNoScreenSource):
		return newFailure(KindPermissionDenied, err)
	}

	return newFailure(KindRecorder, err)
}
