package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
	}{
		{"typed malformed address", NewMalformedAddressError("bad checksum"), IsMalformedAddress},
		{"typed packet too small", NewPacketTooSmallError(3, 64), IsPacketTooSmall},
		{"typed payload too large", NewPayloadTooLargeError(99999, 65535), IsPayloadTooLarge},
		{"typed malformed packet", NewMalformedPacketError("truncated extension"), IsMalformedPacket},
		{"typed out of range", NewOutOfRangeError("longitude", 200), IsOutOfRange},
		{"typed no route", NewNoRouteError("dest"), IsNoRoute},
		{"typed peer unreachable", NewPeerUnreachableError("ep", nil), IsPeerUnreachable},
		{"typed already running", NewAlreadyRunningError("running"), IsAlreadyRunning},
		{"typed not running", NewNotRunningError("Send"), IsNotRunning},
		{"sentinel malformed address", fmt.Errorf("parse: %w", ErrMalformedAddress), IsMalformedAddress},
		{"sentinel no route", fmt.Errorf("send: %w", ErrNoRoute), IsNoRoute},
		{"sentinel not running", fmt.Errorf("stats: %w", ErrNotRunning), IsNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.checker(tt.err) {
				t.Errorf("Expected checker to match error %v", tt.err)
			}
		})
	}
}

func TestIsHelpersNegative(t *testing.T) {
	plain := errors.New("something else")

	if IsNoRoute(plain) {
		t.Errorf("Expected IsNoRoute to reject unrelated error")
	}
	if IsNoRoute(nil) {
		t.Errorf("Expected IsNoRoute to reject nil")
	}
	if IsMalformedAddress(NewNoRouteError("x")) {
		t.Errorf("Expected IsMalformedAddress to reject NoRouteError")
	}
}

func TestIsHelpersWrapped(t *testing.T) {
	// Helpers must see through Wrap
	err := Wrap(NewNoRouteError("dest"), "send failed")
	if !IsNoRoute(err) {
		t.Errorf("Expected IsNoRoute to match wrapped NoRouteError")
	}

	err = Wrap(NewPeerUnreachableError("tcp://h:1", errors.New("refused")), "flush failed")
	if !IsPeerUnreachable(err) {
		t.Errorf("Expected IsPeerUnreachable to match wrapped PeerUnreachableError")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"no route", NewNoRouteError("dest"), true},
		{"peer unreachable", NewPeerUnreachableError("ep", nil), true},
		{"transport", NewTransportError("tcp", "", nil), true},
		{"malformed address", NewMalformedAddressError("short"), false},
		{"not running", NewNotRunningError("Send"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.expected {
				t.Errorf("Expected ShouldRetry=%v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, CodeOK},
		{"typed", NewNoRouteError("dest"), CodeNoRoute},
		{"wrapped typed", Wrap(NewOutOfRangeError("latitude", 95), "encode"), CodeOutOfRange},
		{"sentinel", fmt.Errorf("x: %w", ErrPacketTooSmall), CodePacketTooSmall},
		{"plain", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("Expected code %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	if msg := GetErrorMessage(nil); msg != "" {
		t.Errorf("Expected empty message for nil, got %q", msg)
	}

	err := NewNoRouteError("3yQ8pK")
	if msg := GetErrorMessage(err); msg != "no route to host 3yQ8pK" {
		t.Errorf("Unexpected message: %q", msg)
	}

	plain := errors.New("plain failure")
	if msg := GetErrorMessage(plain); msg != "plain failure" {
		t.Errorf("Unexpected message: %q", msg)
	}
}

func TestCause(t *testing.T) {
	root := errors.New("root cause")
	chain := Wrap(Wrap(root, "middle"), "top")

	if got := Cause(chain); got != root {
		t.Errorf("Expected Cause to return root, got %v", got)
	}

	// An error without a chain is its own cause
	if got := Cause(root); got != root {
		t.Errorf("Expected Cause of plain error to be itself")
	}
}
