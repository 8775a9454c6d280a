package gcm

import (
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

var (
	ErrMissingAPIKey        = errors.New("api key cannot be empty")
	ErrMissingClientFactory = errors.New("client factory is required")
	ErrNegativeRetryTimes   = errors.New("retry times must not be negative")
)

// ConfigurationError is returned by New when the Dispatcher cannot be built.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid gcm configuration (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type failureKind int

const (
	kindInvalidArgument failureKind = iota
	kindInvalidRequest
	kindOther
)

type failure struct {
	kind failureKind
	text string
}

// classify turns a transport error into the text recorded in the error log.
func classify(err error) failure {
	if dispatch.IsInvalidArgument(err) {
		return failure{kind: kindInvalidArgument, text: err.Error()}
	}
	if reqErr, ok := dispatch.AsInvalidRequest(err); ok {
		if reqErr.Message != "" {
			return failure{kind: kindInvalidRequest, text: reqErr.Message}
		}
		return failure{
			kind: kindInvalidRequest,
			text: fmt.Sprintf("Received error code %d from %s Service", reqErr.Code, serviceName),
		}
	}
	return failure{kind: kindOther, text: err.Error()}
}
