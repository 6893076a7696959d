package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every package. Callers test with errors.Is.
var (
	// ErrConfiguration is returned for unknown variants in a closed set
	// (algorithm, metric, transformer, data source, cache or bus type).
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is returned for schema mismatches and empty inputs.
	ErrValidation = errors.New("validation error")

	// ErrInvalidParameter is returned for out-of-range numeric parameters.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// InvalidWindowError reports a non-positive rolling window size.
type InvalidWindowError struct {
	Window int
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid window size %d: must be positive", e.Window)
}

func (e *InvalidWindowError) Unwrap() error { return ErrInvalidParameter }

// UnknownAggFuncError reports an aggregation function outside sum/count/mean.
type UnknownAggFuncError struct {
	Name string
}

func (e *UnknownAggFuncError) Error() string {
	return fmt.Sprintf("unknown aggregation function %q", e.Name)
}

func (e *UnknownAggFuncError) Unwrap() error { return ErrConfiguration }

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidParameterf wraps ErrInvalidParameter with a formatted message.
func InvalidParameterf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
