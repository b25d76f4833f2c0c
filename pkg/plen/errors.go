package plen

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("driver is not connected")
	ErrDeviceNotFound   = errors.New("PLEN is not found")
	ErrAlreadyConnected = errors.New("PLEN is already connected")
	ErrTransportClosed  = errors.New("command stream closed")
	ErrInvalidSlot      = errors.New("invalid motion slot")
	ErrSessionClosed    = errors.New("session is closed")
)

// DriverError reports a failed capability call against the device.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError wraps err unless it is already a *DriverError.
func NewDriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return &DriverError{Op: op, Err: err}
}

// DispatchErrorKind classifies a command that cannot be dispatched.
type DispatchErrorKind int

const (
	UnknownMethod DispatchErrorKind = iota
	InvalidArity
	InvalidArgument
)

func (k DispatchErrorKind) String() string {
	switch k {
	case UnknownMethod:
		return "unknown method"
	case InvalidArity:
		return "invalid arity"
	case InvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("DispatchErrorKind(%d)", int(k))
	}
}

// DispatchError reports a command that does not map to a driver operation.
type DispatchError struct {
	Kind   DispatchErrorKind
	Method string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Method, e.Err)
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Method)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsDispatchError reports whether err is a *DispatchError of the given kind.
func IsDispatchError(err error, kind DispatchErrorKind) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Kind == kind
}
