// Package casterr holds the error kinds surfaced by casting operations.
package casterr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrDeviceNotFound         = errors.New("device not found")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrCommandFailed          = errors.New("command failed")
	ErrTimeout                = errors.New("timeout")
	ErrInvalidResponse        = errors.New("invalid response")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNetwork                = errors.New("network error")
)

// ConnectionFailed wraps ErrConnectionFailed with a reason.
func ConnectionFailed(reason string) error {
	return pkgerrors.Wrap(ErrConnectionFailed, reason)
}

// CommandFailed wraps ErrCommandFailed with a reason.
func CommandFailed(reason string) error {
	return pkgerrors.Wrap(ErrCommandFailed, reason)
}

func InvalidResponse(reason string) error {
	return pkgerrors.Wrap(ErrInvalidResponse, reason)
}

// Timeout wraps ErrTimeout with the operation that ran out of time.
func Timeout(op string) error {
	return pkgerrors.Wrap(ErrTimeout, op)
}

// Network attaches the underlying cause to ErrNetwork.
func Network(cause error) error {
	if cause == nil {
		return nil
	}
	return &networkError{cause: cause}
}

type networkError struct{ cause error }

func (e *networkError) Error() string   { return ErrNetwork.Error() + ": " + e.cause.Error() }
func (e *networkError) Unwrap() []error { return []error{ErrNetwork, e.cause} }

// FeatureError marks a component that could not start. The rest of the
// process keeps running without it.
type FeatureError struct {
	Feature string
	Err     error
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature %s unavailable: %v", e.Feature, e.Err)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// Feature wraps err as a FeatureError for the named component.
func Feature(feature string, err error) error {
	if err == nil {
		return nil
	}
	return &FeatureError{Feature: feature, Err: err}
}

// AsFeature extracts the FeatureError from err, if any.
func AsFeature(err error) (*FeatureError, bool) {
	var fe *FeatureError
	ok := errors.As(err, &fe)
	return fe, ok
}

// Features lists every FeatureError in err, including those combined with
// errors.Join.
func Features(err error) []*FeatureError {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FeatureError); ok {
		return []*FeatureError{fe}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*FeatureError
		for _, e := range joined.Unwrap() {
			out = append(out, Features(e)...)
		}
		return out
	}
	if fe, ok := AsFeature(err); ok {
		return []*FeatureError{fe}
	}
	return nil
}
