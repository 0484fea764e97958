package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMalformedAddressError(t *testing.T) {
	tests := []struct {
		name          string
		reason        string
		expectedError string
	}{
		{
			name:          "bad checksum",
			reason:        "checksum mismatch",
			expectedError: "malformed address: checksum mismatch",
		},
		{
			name:          "bad length",
			reason:        "19 bytes, want 20",
			expectedError: "malformed address: 19 bytes, want 20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMalformedAddressError(tt.reason)
			if err.Error() != tt.expectedError {
				t.Errorf("Expected error %q, got %q", tt.expectedError, err.Error())
			}
			if err.Code() != CodeMalformedAddress {
				t.Errorf("Expected code %q, got %q", CodeMalformedAddress, err.Code())
			}
			if err.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, err.Reason)
			}
		})
	}
}

func TestPacketTooSmallError(t *testing.T) {
	err := NewPacketTooSmallError(12, 64)

	if err.Size != 12 {
		t.Errorf("Expected size 12, got %d", err.Size)
	}
	if err.MinSize != 64 {
		t.Errorf("Expected min size 64, got %d", err.MinSize)
	}
	if err.Code() != CodePacketTooSmall {
		t.Errorf("Expected code %q, got %q", CodePacketTooSmall, err.Code())
	}
	if !strings.Contains(err.Error(), "12 bytes") {
		t.Errorf("Expected error to mention actual size: %q", err.Error())
	}
}

func TestPayloadTooLargeError(t *testing.T) {
	err := NewPayloadTooLargeError(70000, 65535)

	if err.Size != 70000 {
		t.Errorf("Expected size 70000, got %d", err.Size)
	}
	if err.MaxSize != 65535 {
		t.Errorf("Expected max size 65535, got %d", err.MaxSize)
	}
	if err.Code() != CodePayloadTooLarge {
		t.Errorf("Expected code %q, got %q", CodePayloadTooLarge, err.Code())
	}
}

func TestOutOfRangeError(t *testing.T) {
	err := NewOutOfRangeError("latitude", 91.5)

	if err.Field != "latitude" {
		t.Errorf("Expected field 'latitude', got %q", err.Field)
	}
	if err.Value != 91.5 {
		t.Errorf("Expected value 91.5, got %v", err.Value)
	}
	if err.Code() != CodeOutOfRange {
		t.Errorf("Expected code %q, got %q", CodeOutOfRange, err.Code())
	}
	if !strings.Contains(err.Error(), "latitude") {
		t.Errorf("Expected error to contain field name: %q", err.Error())
	}
}

func TestNoRouteError(t *testing.T) {
	err := NewNoRouteError("3yQ8pK")

	if err.Destination != "3yQ8pK" {
		t.Errorf("Expected destination '3yQ8pK', got %q", err.Destination)
	}
	if err.Code() != CodeNoRoute {
		t.Errorf("Expected code %q, got %q", CodeNoRoute, err.Code())
	}
	if !strings.Contains(err.Error(), "no route to host") {
		t.Errorf("Expected error to contain 'no route to host': %q", err.Error())
	}
}

func TestPeerUnreachableError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewPeerUnreachableError("tcp://10.0.0.2:7946", cause)

		if err.Endpoint != "tcp://10.0.0.2:7946" {
			t.Errorf("Expected endpoint to be preserved, got %q", err.Endpoint)
		}
		if err.Unwrap() != cause {
			t.Errorf("Expected cause to be preserved")
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("Expected error to contain cause: %q", err.Error())
		}
	})

	t.Run("without cause", func(t *testing.T) {
		err := NewPeerUnreachableError("mem://n1", nil)
		if err.Code() != CodePeerUnreachable {
			t.Errorf("Expected code %q, got %q", CodePeerUnreachable, err.Code())
		}
	})
}

func TestLifecycleErrors(t *testing.T) {
	t.Run("already running", func(t *testing.T) {
		err := NewAlreadyRunningError("running")
		if err.Code() != CodeAlreadyRunning {
			t.Errorf("Expected code %q, got %q", CodeAlreadyRunning, err.Code())
		}
		if err.State != "running" {
			t.Errorf("Expected state 'running', got %q", err.State)
		}
	})

	t.Run("not running", func(t *testing.T) {
		err := NewNotRunningError("Send")
		if err.Code() != CodeNotRunning {
			t.Errorf("Expected code %q, got %q", CodeNotRunning, err.Code())
		}
		if err.Operation != "Send" {
			t.Errorf("Expected operation 'Send', got %q", err.Operation)
		}
		if !strings.Contains(err.Error(), "Send") {
			t.Errorf("Expected error to contain operation: %q", err.Error())
		}
	})
}

func TestTransportError(t *testing.T) {
	t.Run("with message", func(t *testing.T) {
		cause := errors.New("address already in use")
		err := NewTransportError("tcp", "listen failed", cause)

		if err.Transport != "tcp" {
			t.Errorf("Expected transport 'tcp', got %q", err.Transport)
		}
		if err.Unwrap() != cause {
			t.Errorf("Expected cause to be preserved")
		}
	})

	t.Run("default message", func(t *testing.T) {
		err := NewTransportError("udp", "", nil)
		if err.Message() != "udp transport error" {
			t.Errorf("Expected default message, got %q", err.Message())
		}
	})
}

func TestConfigError(t *testing.T) {
	tests := []struct {
		name          string
		field         string
		message       string
		expectedError string
	}{
		{
			name:          "with field",
			field:         "node.max_peers",
			message:       "must be positive",
			expectedError: "config error: node.max_peers: must be positive",
		},
		{
			name:          "without field",
			field:         "",
			message:       "empty config",
			expectedError: "config error: empty config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfigError(tt.field, tt.message)
			if err.Error() != tt.expectedError {
				t.Errorf("Expected error %q, got %q", tt.expectedError, err.Error())
			}
			if err.Code() != CodeConfig {
				t.Errorf("Expected code %q, got %q", CodeConfig, err.Code())
			}
		})
	}
}

func TestInternalError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := NewInternalError("failed to persist identity", cause)

		if err.Message() != "failed to persist identity" {
			t.Errorf("Expected message to be preserved, got %q", err.Message())
		}
		if err.Unwrap() != cause {
			t.Errorf("Expected cause to be preserved")
		}
	})

	t.Run("with operation", func(t *testing.T) {
		err := NewInternalError("operation failed", nil).WithOperation("dispatch")
		if err.Operation != "dispatch" {
			t.Errorf("Expected operation 'dispatch', got %q", err.Operation)
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("wrap standard error", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := Wrap(original, "additional context")

		if !strings.Contains(wrapped.Error(), "additional context") {
			t.Errorf("Expected wrapped error to contain context: %q", wrapped.Error())
		}
		if !errors.Is(wrapped, original) {
			t.Errorf("Expected wrapped error to preserve original error")
		}
	})

	t.Run("wrap custom error preserves code", func(t *testing.T) {
		original := NewNoRouteError("abc")
		wrapped := Wrap(original, "send failed")

		var customErr Error
		if !errors.As(wrapped, &customErr) {
			t.Fatalf("Expected wrapped error to implement Error")
		}
		if customErr.Code() != CodeNoRoute {
			t.Errorf("Expected code %q to survive wrapping, got %q", CodeNoRoute, customErr.Code())
		}
		if errors.Unwrap(wrapped) != error(original) {
			t.Errorf("Expected wrapped error to preserve original error")
		}
	})

	t.Run("wrap nil error", func(t *testing.T) {
		wrapped := Wrap(nil, "context")
		if wrapped != nil {
			t.Errorf("Expected Wrap(nil) to return nil, got %v", wrapped)
		}
	})
}

func TestWrapf(t *testing.T) {
	original := errors.New("connection failed")
	wrapped := Wrapf(original, "failed to dial %s:%d", "localhost", 7946)

	expected := "failed to dial localhost:7946"
	if !strings.Contains(wrapped.Error(), expected) {
		t.Errorf("Expected wrapped error to contain %q, got %q", expected, wrapped.Error())
	}
}

func TestErrorChaining(t *testing.T) {
	// Create a chain of errors
	root := errors.New("root cause")
	level1 := Wrap(root, "level 1")
	level2 := Wrap(level1, "level 2")
	level3 := Wrap(level2, "level 3")

	// Test unwrapping
	if !errors.Is(level3, root) {
		t.Errorf("Expected error chain to preserve root cause")
	}

	// Test that we can unwrap multiple levels
	unwrapped := errors.Unwrap(level3)
	if unwrapped != level2 {
		t.Errorf("Expected first unwrap to return level2")
	}

	unwrapped = errors.Unwrap(unwrapped)
	if unwrapped != level1 {
		t.Errorf("Expected second unwrap to return level1")
	}
}

func TestStackTrace(t *testing.T) {
	err := NewInternalError("test error", nil)

	if len(err.Stack()) == 0 {
		t.Errorf("Expected stack trace to be captured")
	}

	trace := err.StackTrace()
	if trace == "" {
		t.Errorf("Expected stack trace string to be non-empty")
	}

	// Stack trace should contain this test function
	if !strings.Contains(trace, "TestStackTrace") {
		t.Errorf("Expected stack trace to contain test function name: %s", trace)
	}
}

func TestNew(t *testing.T) {
	err := New("test error")

	if err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got %q", err.Error())
	}

	// Check that it implements our Error interface
	var customErr Error
	if !errors.As(err, &customErr) {
		t.Errorf("Expected New() to return an Error interface")
	}
}

func TestNewf(t *testing.T) {
	err := Newf("seq %d dropped by %s", 42, "dedup")

	expected := "seq 42 dropped by dedup"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrMalformedAddress", ErrMalformedAddress},
		{"ErrPacketTooSmall", ErrPacketTooSmall},
		{"ErrPayloadTooLarge", ErrPayloadTooLarge},
		{"ErrMalformedPacket", ErrMalformedPacket},
		{"ErrOutOfRange", ErrOutOfRange},
		{"ErrNoRoute", ErrNoRoute},
		{"ErrPeerUnreachable", ErrPeerUnreachable},
		{"ErrAlreadyRunning", ErrAlreadyRunning},
		{"ErrNotRunning", ErrNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("wrapped: %w", tt.err)
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("Expected errors.Is to work with sentinel error")
			}
		})
	}
}

func BenchmarkNewNoRouteError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewNoRouteError("destination")
	}
}

func BenchmarkWrap(b *testing.B) {
	err := errors.New("original error")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Wrap(err, "wrapped")
	}
}
