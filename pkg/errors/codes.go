package errors

// Error codes for categorizing protocol errors. Codes are stable strings so
// they can cross the gateway API and appear in logs unchanged.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeMalformedAddress indicates address bytes failed validation
	// (wrong length, bad checksum, unsupported version).
	CodeMalformedAddress = "ADDR_MALFORMED"

	// CodePacketTooSmall indicates a byte sequence shorter than the fixed
	// packet header.
	CodePacketTooSmall = "PKT_TOO_SMALL"

	// CodePayloadTooLarge indicates a payload that would push the packet
	// past the maximum packet size.
	CodePayloadTooLarge = "PKT_PAYLOAD_TOO_LARGE"

	// CodeMalformedPacket indicates header or extension framing that does
	// not decode.
	CodeMalformedPacket = "PKT_MALFORMED"

	// CodeOutOfRange indicates a coordinate or precision outside the legal
	// range for the proximity utilities.
	CodeOutOfRange = "GEO_OUT_OF_RANGE"

	// CodeNoRoute indicates no route or direct peer exists for a
	// destination.
	CodeNoRoute = "NET_NO_ROUTE"

	// CodePeerUnreachable indicates a transport-level delivery failure for
	// one send; peer and route state are reconciled by the next heartbeat.
	CodePeerUnreachable = "NET_PEER_UNREACHABLE"

	// CodeAlreadyRunning indicates Start was invoked on a node that is not
	// idle.
	CodeAlreadyRunning = "NODE_ALREADY_RUNNING"

	// CodeNotRunning indicates an operation that requires a running node.
	CodeNotRunning = "NODE_NOT_RUNNING"

	// CodeTransport indicates a transport setup or I/O failure.
	CodeTransport = "TRANSPORT_ERROR"

	// CodeConfig indicates an invalid configuration value.
	CodeConfig = "CONFIG_ERROR"

	// CodeIdentity indicates a key pair could not be generated, loaded or
	// persisted.
	CodeIdentity = "IDENTITY_ERROR"

	// CodeInternal indicates an internal error.
	CodeInternal = "INTERNAL"
)

// ErrorCategory is a coarse grouping used by the gateway and by retry
// decisions.
type ErrorCategory string

const (
	// CategoryValidation groups input-validation failures that are always
	// surfaced synchronously to the caller.
	CategoryValidation ErrorCategory = "VALIDATION_ERROR"

	// CategoryRouting groups routing failures surfaced to send callers.
	CategoryRouting ErrorCategory = "ROUTING_ERROR"

	// CategoryLifecycle groups node state-machine violations.
	CategoryLifecycle ErrorCategory = "LIFECYCLE_ERROR"

	// CategoryTransport groups failures reported by the transport boundary.
	CategoryTransport ErrorCategory = "TRANSPORT_ERROR"

	// CategoryServer groups everything else.
	CategoryServer ErrorCategory = "SERVER_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeMalformedAddress, CodePacketTooSmall, CodePayloadTooLarge,
		CodeMalformedPacket, CodeOutOfRange, CodeConfig:
		return CategoryValidation

	case CodeNoRoute:
		return CategoryRouting

	case CodeAlreadyRunning, CodeNotRunning:
		return CategoryLifecycle

	case CodePeerUnreachable, CodeTransport:
		return CategoryTransport

	default:
		return CategoryServer
	}
}

// IsRetryable reports whether an operation failing with the given code may
// succeed on retry. Validation and lifecycle failures are deterministic;
// routing and transport failures can clear once discovery or the next
// heartbeat cycle reconciles peer state.
func IsRetryable(code string) bool {
	switch code {
	case CodeNoRoute, CodePeerUnreachable, CodeTransport:
		return true
	default:
		return false
	}
}
