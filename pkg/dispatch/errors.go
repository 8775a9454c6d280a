package dispatch

import (
	"errors"
	"fmt"
)

// InvalidArgumentError is raised by a transport when the request itself is
// malformed before anything is sent, e.g. an empty registration token.
type InvalidArgumentError struct {
	Reason string
	Err    error
}

func (e *InvalidArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *InvalidArgumentError) Unwrap() error { return e.Err }

// InvalidRequestError is raised when the push service answered with an HTTP
// status other than 200 or 503. Message may be empty.
type InvalidRequestError struct {
	Code    int
	Message string
	Err     error
}

func (e *InvalidRequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid request: status %d", e.Code)
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// NewInvalidArgument is a convenience constructor for transports.
func NewInvalidArgument(reason string) error {
	return &InvalidArgumentError{Reason: reason}
}

// IsInvalidArgument reports whether err is, or wraps, an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// AsInvalidRequest unwraps err into an InvalidRequestError if it is one.
func AsInvalidRequest(err error) (*InvalidRequestError, bool) {
	var target *InvalidRequestError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
