package detect

import (
	"context"
	"errors"
)

var (
	// ErrConfiguration is returned for a detection type with no registered backend.
	ErrConfiguration = errors.New("unsupported detection type")
	// ErrNotFound means the detector (after filtering) produced nothing.
	ErrNotFound = errors.New("nothing detected")
	// ErrInput covers empty or undecodable payloads and out-of-range parameters.
	ErrInput = errors.New("invalid input")
	// ErrProcessing covers detector and codec failures.
	ErrProcessing = errors.New("processing failed")
)

// Error classes reported by ErrorClass.
const (
	ClassOK            = "ok"
	ClassConfiguration = "configuration"
	ClassNotFound      = "not_found"
	ClassInput         = "input"
	ClassProcessing    = "processing"
	ClassCanceled      = "canceled"
)

// ErrorClass names the taxonomy bucket of err. Unknown errors count as processing failures.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInput):
		return ClassInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassProcessing
	}
}
