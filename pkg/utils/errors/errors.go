package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure so callers can pick the right response
// without string matching.
type ErrorType uint

const (
	// ErrorTypeUnknown is the zero value classification.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidInput marks malformed or out-of-domain caller input.
	// Invalid inputs are rejected, never silently corrected.
	ErrorTypeInvalidInput
	// ErrorTypeNotFound marks a missing warrant, portfolio, or snapshot.
	ErrorTypeNotFound
	// ErrorTypeUpstreamData marks a market data provider failure.
	ErrorTypeUpstreamData
	// ErrorTypeRateLimited marks an upstream throttle. Callers may serve
	// stale cache but must not retry in a tight loop.
	ErrorTypeRateLimited
	// ErrorTypeCalibration marks model calibration that did not converge.
	// Treated as a warning at the API boundary, not a hard failure.
	ErrorTypeCalibration
	// ErrorTypeNumericalInstability marks NaN/Inf or an ill-conditioned
	// intermediate. Fatal to the single computation that produced it.
	ErrorTypeNumericalInstability
	// ErrorTypeInternal is everything else.
	ErrorTypeInternal
)

// AppError carries a classification alongside the message chain.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an unclassified error.
func New(message string) error {
	return &AppError{Type: ErrorTypeUnknown, Message: message}
}

// Newf creates an unclassified error from a format string.
func Newf(format string, args ...interface{}) error {
	return &AppError{Type: ErrorTypeUnknown, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a message, preserving the classification of
// the innermost AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Type: TypeOf(err), Message: message, Err: err}
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// TypeOf returns the classification of the first AppError in the chain,
// or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether any error in the chain carries the given
// classification.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Type == t {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is delegates to the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As delegates to the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string) error {
	return &AppError{Type: ErrorTypeInvalidInput, Message: message}
}

// InvalidInputf creates an invalid input error from a format string.
func InvalidInputf(format string, args ...interface{}) error {
	return &AppError{Type: ErrorTypeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not found error.
func NotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// UpstreamData wraps a provider failure.
func UpstreamData(message string, err error) error {
	return &AppError{Type: ErrorTypeUpstreamData, Message: message, Err: err}
}

// RateLimited wraps an upstream throttle response.
func RateLimited(message string, err error) error {
	return &AppError{Type: ErrorTypeRateLimited, Message: message, Err: err}
}

// Calibration creates a calibration non-convergence error.
func Calibration(message string) error {
	return &AppError{Type: ErrorTypeCalibration, Message: message}
}

// NumericalInstability creates a numerical instability error.
func NumericalInstability(message string) error {
	return &AppError{Type: ErrorTypeNumericalInstability, Message: message}
}

// NumericalInstabilityf creates a numerical instability error from a
// format string.
func NumericalInstabilityf(format string, args ...interface{}) error {
	return &AppError{Type: ErrorTypeNumericalInstability, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(message string) error {
	return &AppError{Type: ErrorTypeInternal, Message: message}
}
