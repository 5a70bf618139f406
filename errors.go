package falcon

import (
	"errors"
	"fmt"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/resolve"
	"github.com/hupe1980/falcon/ndarray"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("falcon: configuration error")

	// ErrUnsupported is returned for categorical active dimensions and views
	// with more than two dimensions.
	ErrUnsupported = backend.ErrNotImplemented

	// ErrOutOfRange is returned for array indices outside their shape.
	ErrOutOfRange = ndarray.ErrOutOfRange

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("falcon: closed")
)

// ConfigurationError reports a call that does not fit the current setup of
// views, dimensions and backend.
//
// The underlying error (if any) can be accessed via errors.Unwrap.
type ConfigurationError struct {
	Op     string
	Reason string
	cause  error
}

func (e *ConfigurationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("falcon: %s: %s: %v", e.Op, e.Reason, e.cause)
	}
	return fmt.Sprintf("falcon: %s: %s", e.Op, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErr(op, reason string, args ...any) error {
	return &ConfigurationError{Op: op, Reason: fmt.Sprintf(reason, args...)}
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, backend.ErrDimensionNotFound) {
		return &ConfigurationError{Op: op, Reason: "dimension not found in backend", cause: err}
	}
	if errors.Is(err, resolve.ErrBrushShape) {
		return &ConfigurationError{Op: op, Reason: "brush does not match the index", cause: err}
	}
	return err
}
