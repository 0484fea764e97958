package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrMalformedAddress is returned when address bytes fail validation.
	ErrMalformedAddress = errors.New("malformed address")

	// ErrPacketTooSmall is returned when a buffer is shorter than the fixed header.
	ErrPacketTooSmall = errors.New("packet too small")

	// ErrPayloadTooLarge is returned when a payload exceeds the packet size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformedPacket is returned when header or extension framing does not decode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrOutOfRange is returned for coordinates or precision outside the legal range.
	ErrOutOfRange = errors.New("out of range")

	// ErrNoRoute is returned when no route to the destination exists.
	ErrNoRoute = errors.New("no route to host")

	// ErrPeerUnreachable is returned when a transport send fails.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrAlreadyRunning is returned when Start is called on a non-idle node.
	ErrAlreadyRunning = errors.New("node already running")

	// ErrNotRunning is returned when an operation requires a running node.
	ErrNotRunning = errors.New("node not running")
)

// Error is the base interface for all custom errors in the system.
// It extends the standard error interface with additional context.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

// captureStack captures the current stack trace.
func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// MalformedAddressError represents address bytes that fail validation.
type MalformedAddressError struct {
	*BaseError
	Reason string
}

// NewMalformedAddressError creates a new malformed address error.
func NewMalformedAddressError(reason string) *MalformedAddressError {
	return &MalformedAddressError{
		BaseError: &BaseError{
			code:    CodeMalformedAddress,
			message: fmt.Sprintf("malformed address: %s", reason),
			stack:   captureStack(1),
		},
		Reason: reason,
	}
}

// PacketTooSmallError represents a buffer shorter than the fixed header.
type PacketTooSmallError struct {
	*BaseError
	Size    int
	MinSize int
}

// NewPacketTooSmallError creates a new packet too small error.
func NewPacketTooSmallError(size, minSize int) *PacketTooSmallError {
	return &PacketTooSmallError{
		BaseError: &BaseError{
			code:    CodePacketTooSmall,
			message: fmt.Sprintf("packet too small: %d bytes, need at least %d", size, minSize),
			stack:   captureStack(1),
		},
		Size:    size,
		MinSize: minSize,
	}
}

// PayloadTooLargeError represents a payload past the packet size ceiling.
type PayloadTooLargeError struct {
	*BaseError
	Size    int
	MaxSize int
}

// NewPayloadTooLargeError creates a new payload too large error.
func NewPayloadTooLargeError(size, maxSize int) *PayloadTooLargeError {
	return &PayloadTooLargeError{
		BaseError: &BaseError{
			code:    CodePayloadTooLarge,
			message: fmt.Sprintf("payload too large: %d bytes, max %d", size, maxSize),
			stack:   captureStack(1),
		},
		Size:    size,
		MaxSize: maxSize,
	}
}

// MalformedPacketError represents header or extension framing that does not decode.
type MalformedPacketError struct {
	*BaseError
	Reason string
}

// NewMalformedPacketError creates a new malformed packet error.
func NewMalformedPacketError(reason string) *MalformedPacketError {
	return &MalformedPacketError{
		BaseError: &BaseError{
			code:    CodeMalformedPacket,
			message: fmt.Sprintf("malformed packet: %s", reason),
			stack:   captureStack(1),
		},
		Reason: reason,
	}
}

// OutOfRangeError represents a coordinate, precision or geohash outside the
// legal range.
type OutOfRangeError struct {
	*BaseError
	Field string
	Value interface{}
}

// NewOutOfRangeError creates a new out of range error.
func NewOutOfRangeError(field string, value interface{}) *OutOfRangeError {
	return &OutOfRangeError{
		BaseError: &BaseError{
			code:    CodeOutOfRange,
			message: fmt.Sprintf("%s out of range: %v", field, value),
			stack:   captureStack(1),
		},
		Field: field,
		Value: value,
	}
}

// NoRouteError represents a destination with no known route or direct peer.
type NoRouteError struct {
	*BaseError
	Destination string
}

// NewNoRouteError creates a new no route error.
func NewNoRouteError(destination string) *NoRouteError {
	return &NoRouteError{
		BaseError: &BaseError{
			code:    CodeNoRoute,
			message: fmt.Sprintf("no route to host %s", destination),
			stack:   captureStack(1),
		},
		Destination: destination,
	}
}

// PeerUnreachableError represents a transport-level delivery failure.
type PeerUnreachableError struct {
	*BaseError
	Endpoint string
}

// NewPeerUnreachableError creates a new peer unreachable error.
func NewPeerUnreachableError(endpoint string, cause error) *PeerUnreachableError {
	return &PeerUnreachableError{
		BaseError: &BaseError{
			code:    CodePeerUnreachable,
			message: fmt.Sprintf("peer unreachable at %s", endpoint),
			cause:   cause,
			stack:   captureStack(1),
		},
		Endpoint: endpoint,
	}
}

// AlreadyRunningError represents Start on a node that is not idle.
type AlreadyRunningError struct {
	*BaseError
	State string
}

// NewAlreadyRunningError creates a new already running error.
func NewAlreadyRunningError(state string) *AlreadyRunningError {
	return &AlreadyRunningError{
		BaseError: &BaseError{
			code:    CodeAlreadyRunning,
			message: fmt.Sprintf("node already running (state %s)", state),
			stack:   captureStack(1),
		},
		State: state,
	}
}

// NotRunningError represents an operation that requires a running node.
type NotRunningError struct {
	*BaseError
	Operation string
}

// NewNotRunningError creates a new not running error.
func NewNotRunningError(operation string) *NotRunningError {
	return &NotRunningError{
		BaseError: &BaseError{
			code:    CodeNotRunning,
			message: fmt.Sprintf("%s requires a running node", operation),
			stack:   captureStack(1),
		},
		Operation: operation,
	}
}

// TransportError represents a transport setup or wire failure.
type TransportError struct {
	*BaseError
	Transport string
}

// NewTransportError creates a new transport error.
func NewTransportError(transport, message string, cause error) *TransportError {
	if message == "" {
		message = fmt.Sprintf("%s transport error", transport)
	}
	return &TransportError{
		BaseError: &BaseError{
			code:    CodeTransport,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
		Transport: transport,
	}
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	*BaseError
	Field string
}

// NewConfigError creates a new config error.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		BaseError: &BaseError{
			code:    CodeConfig,
			message: message,
			stack:   captureStack(1),
		},
		Field: field,
	}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("config error: %s", e.message)
}

// IdentityError represents a key load, save or derivation failure.
type IdentityError struct {
	*BaseError
	Path string
}

// NewIdentityError creates a new identity error.
func NewIdentityError(path, message string, cause error) *IdentityError {
	return &IdentityError{
		BaseError: &BaseError{
			code:    CodeIdentity,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
		Path: path,
	}
}

// InternalError represents an internal error.
type InternalError struct {
	*BaseError
	Operation string
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
	}
}

// WithOperation sets the operation context.
func (e *InternalError) WithOperation(op string) *InternalError {
	e.Operation = op
	return e
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the code
// and adds the cause chain. Otherwise, it creates an InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already our error type, wrap it
	if e, ok := err.(Error); ok {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	// Otherwise create an internal error
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   err,
			stack:   captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error with a message.
func New(message string) error {
	return &BaseError{
		code:    CodeInternal,
		message: message,
		stack:   captureStack(1),
	}
}

// Newf creates a new error with a formatted message.
func Newf(format string, args ...interface{}) error {
	return New(fmt.Sprintf(format, args...))
}
