package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates the session record could not be located.
	ErrSessionNotFound = errors.New("services: session not found")
	// ErrTrackingNotFound indicates the time-tracking record could not be located.
	ErrTrackingNotFound = errors.New("services: tracking record not found")
	// ErrInvalidInput wraps caller mistakes such as an end before its start.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrInvalidSegment rejects speaking segments that end before they start.
	ErrInvalidSegment = fmt.Errorf("%w: segment end precedes its start", ErrInvalidInput)
	// ErrUnsupportedMedia rejects uploads that are not audio.
	ErrUnsupportedMedia = fmt.Errorf("%w: only audio files are accepted", ErrInvalidInput)
	// ErrUploadTooLarge rejects uploads above the configured size limit.
	ErrUploadTooLarge = errors.New("services: upload exceeds size limit")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
