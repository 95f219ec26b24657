package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrEndpointRequired           = sterrors.New("natsflow: endpoint is required")
	ErrEndpointIDRequired         = sterrors.New("natsflow: endpoint id is required")
	ErrFactoryRequired            = sterrors.New("natsflow: container factory is required")
	ErrDuplicateEndpointID        = sterrors.New("natsflow: another endpoint is already registered with this id")
	ErrListenerRequired           = sterrors.New("natsflow: message listener is required")
	ErrSubjectsRequired           = sterrors.New("natsflow: at least one subject is required")
	ErrPhaseMismatch              = sterrors.New("natsflow: phase mismatch between container factory definitions")
	ErrNoFactoryResolvable        = sterrors.New("natsflow: no container factory given and no default is set")
	ErrConnectionProviderRequired = sterrors.New("natsflow: connection provider is required")
	ErrRegistryRequired           = sterrors.New("natsflow: endpoint registry is required")
	ErrConfigRequired             = sterrors.New("natsflow: configuration is required")
	ErrLoggerRequired             = sterrors.New("natsflow: logger is required")
	ErrSubjectRequired            = sterrors.New("natsflow: subject is required")
	ErrPayloadRequired            = sterrors.New("natsflow: payload is required")
	ErrServiceRequired            = sterrors.New("natsflow: service is required")
)

var configurationErrors = []error{
	ErrEndpointRequired,
	ErrEndpointIDRequired,
	ErrFactoryRequired,
	ErrDuplicateEndpointID,
	ErrListenerRequired,
	ErrSubjectsRequired,
	ErrPhaseMismatch,
	ErrNoFactoryResolvable,
	ErrConnectionProviderRequired,
	ErrRegistryRequired,
	ErrConfigRequired,
	ErrServiceRequired,
}

// IsConfigurationError reports whether err stems from a wiring mistake that
// retrying cannot fix.
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr ConfigValidationError
	if sterrors.As(err, &cfgErr) {
		return true
	}
	for _, target := range configurationErrors {
		if sterrors.Is(err, target) {
			return true
		}
	}
	return false
}

// ConfigValidationError wraps the joined problems found by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "natsflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ConnectionError reports a failure talking to the messaging transport.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("natsflow: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps err, returning nil when err is nil.
func NewConnectionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionError{Op: op, Err: err}
}

// ContainerInitError reports a failing container initialization hook.
type ContainerInitError struct {
	ID  string
	Err error
}

func (e *ContainerInitError) Error() string {
	return fmt.Sprintf("natsflow: failed to initialize listener container %q: %v", e.ID, e.Err)
}

func (e *ContainerInitError) Unwrap() error { return e.Err }

// FatalError marks an error handler failure as unrecoverable. Containers
// re-panic with it instead of swallowing it on the dispatch goroutine.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "natsflow: fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the listener container treats it as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return sterrors.As(err, &fatal)
}
