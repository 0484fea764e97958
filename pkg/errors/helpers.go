package errors

import "errors"

// IsMalformedAddress checks if an error indicates invalid address bytes.
func IsMalformedAddress(err error) bool {
	if err == nil {
		return false
	}

	var addrErr *MalformedAddressError
	return errors.As(err, &addrErr) || errors.Is(err, ErrMalformedAddress)
}

// IsPacketTooSmall checks if an error indicates a short packet buffer.
func IsPacketTooSmall(err error) bool {
	if err == nil {
		return false
	}

	var sizeErr *PacketTooSmallError
	return errors.As(err, &sizeErr) || errors.Is(err, ErrPacketTooSmall)
}

// IsPayloadTooLarge checks if an error indicates an oversized payload.
func IsPayloadTooLarge(err error) bool {
	if err == nil {
		return false
	}

	var sizeErr *PayloadTooLargeError
	return errors.As(err, &sizeErr) || errors.Is(err, ErrPayloadTooLarge)
}

// IsMalformedPacket checks if an error indicates undecodable packet framing.
func IsMalformedPacket(err error) bool {
	if err == nil {
		return false
	}

	var pktErr *MalformedPacketError
	return errors.As(err, &pktErr) || errors.Is(err, ErrMalformedPacket)
}

// IsOutOfRange checks if an error indicates a value outside the legal range.
func IsOutOfRange(err error) bool {
	if err == nil {
		return false
	}

	var rangeErr *OutOfRangeError
	return errors.As(err, &rangeErr) || errors.Is(err, ErrOutOfRange)
}

// IsNoRoute checks if an error indicates a missing route.
func IsNoRoute(err error) bool {
	if err == nil {
		return false
	}

	var routeErr *NoRouteError
	return errors.As(err, &routeErr) || errors.Is(err, ErrNoRoute)
}

// IsPeerUnreachable checks if an error indicates a delivery failure.
func IsPeerUnreachable(err error) bool {
	if err == nil {
		return false
	}

	var peerErr *PeerUnreachableError
	return errors.As(err, &peerErr) || errors.Is(err, ErrPeerUnreachable)
}

// IsAlreadyRunning checks if an error indicates a node that is not idle.
func IsAlreadyRunning(err error) bool {
	if err == nil {
		return false
	}

	var runErr *AlreadyRunningError
	return errors.As(err, &runErr) || errors.Is(err, ErrAlreadyRunning)
}

// IsNotRunning checks if an error indicates a stopped node.
func IsNotRunning(err error) bool {
	if err == nil {
		return false
	}

	var runErr *NotRunningError
	return errors.As(err, &runErr) || errors.Is(err, ErrNotRunning)
}

// IsTransport checks if an error originated in a transport.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	var transErr *TransportError
	return errors.As(err, &transErr)
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// ShouldRetry checks if an operation should be retried based on the error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Unreachable peers and missing routes may heal after discovery
	if IsNoRoute(err) || IsPeerUnreachable(err) {
		return true
	}

	// Check the error code
	var customErr Error
	if errors.As(err, &customErr) {
		return IsRetryable(customErr.Code())
	}

	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	// Try to infer from sentinel errors
	switch {
	case IsMalformedAddress(err):
		return CodeMalformedAddress
	case IsPacketTooSmall(err):
		return CodePacketTooSmall
	case IsPayloadTooLarge(err):
		return CodePayloadTooLarge
	case IsMalformedPacket(err):
		return CodeMalformedPacket
	case IsOutOfRange(err):
		return CodeOutOfRange
	case IsNoRoute(err):
		return CodeNoRoute
	case IsPeerUnreachable(err):
		return CodePeerUnreachable
	case IsAlreadyRunning(err):
		return CodeAlreadyRunning
	case IsNotRunning(err):
		return CodeNotRunning
	default:
		return CodeInternal
	}
}

// GetErrorMessage extracts a human-readable message from an error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Message()
	}

	return err.Error()
}

// Cause returns the underlying cause of an error.
// It unwraps the error chain until it finds the root cause.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		underlying := unwrapper.Unwrap()
		if underlying == nil {
			return err
		}
		err = underlying
	}
}
