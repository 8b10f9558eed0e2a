package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrPayloadRequired      = sterrors.New("messagebus: payload is required")
	ErrInvalidDestination   = sterrors.New("messagebus: invalid destination")
	ErrClientAlreadyStarted = sterrors.New("messagebus: client already started")
	ErrClientStopped        = sterrors.New("messagebus: client is stopped")
	ErrProducerClosed       = sterrors.New("messagebus: producer is closed")
	ErrPublishRejected      = sterrors.New("messagebus: publish rejected by producer")
	ErrClientDisabled       = sterrors.New("messagebus: connections are disabled")
)

// InvalidDestinationError reports a destination name that no configured
// cluster serves. It matches ErrInvalidDestination with errors.Is.
type InvalidDestinationError struct {
	Destination string
}

func (e *InvalidDestinationError) Error() string {
	return fmt.Sprintf("messagebus: destination %q not found", e.Destination)
}

func (e *InvalidDestinationError) Is(target error) bool {
	return target == ErrInvalidDestination
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "messagebus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
