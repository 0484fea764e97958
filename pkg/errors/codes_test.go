package errors

import "testing"

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code             string
		expectedCategory ErrorCategory
	}{
		// Validation errors
		{CodeMalformedAddress, CategoryValidation},
		{CodePacketTooSmall, CategoryValidation},
		{CodePayloadTooLarge, CategoryValidation},
		{CodeMalformedPacket, CategoryValidation},
		{CodeOutOfRange, CategoryValidation},
		{CodeConfig, CategoryValidation},

		// Routing errors
		{CodeNoRoute, CategoryRouting},

		// Lifecycle errors
		{CodeAlreadyRunning, CategoryLifecycle},
		{CodeNotRunning, CategoryLifecycle},

		// Transport errors
		{CodePeerUnreachable, CategoryTransport},
		{CodeTransport, CategoryTransport},

		// Server errors
		{CodeInternal, CategoryServer},
		{CodeIdentity, CategoryServer},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			category := GetCategory(tt.code)
			if category != tt.expectedCategory {
				t.Errorf("Code %s: expected category %s, got %s", tt.code, tt.expectedCategory, category)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code     string
		expected bool
	}{
		// Retryable errors
		{CodeNoRoute, true},
		{CodePeerUnreachable, true},
		{CodeTransport, true},

		// Non-retryable errors
		{CodeMalformedAddress, false},
		{CodePacketTooSmall, false},
		{CodePayloadTooLarge, false},
		{CodeMalformedPacket, false},
		{CodeOutOfRange, false},
		{CodeAlreadyRunning, false},
		{CodeNotRunning, false},
		{CodeConfig, false},
		{CodeIdentity, false},
		{CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			result := IsRetryable(tt.code)
			if result != tt.expected {
				t.Errorf("Code %s: expected retryable=%v, got %v", tt.code, tt.expected, result)
			}
		})
	}
}

func BenchmarkGetCategory(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = GetCategory(CodeNoRoute)
	}
}

func BenchmarkIsRetryable(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = IsRetryable(CodePeerUnreachable)
	}
}
