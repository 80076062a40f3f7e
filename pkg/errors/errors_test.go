package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Protocol(-1, "freq control")
	assert.Equal(t, "provider_protocol error (code -1): freq control", err.Error())

	wrapped := Wrap(ErrorTypeNetwork, io.ErrUnexpectedEOF, "request failed")
	assert.Contains(t, wrapped.Error(), "unexpected EOF")
	assert.True(t, Is(wrapped, io.ErrUnexpectedEOF))
}

func TestTypeOf(t *testing.T) {
	base := New(ErrorTypeScanTimeout, "no scan")
	outer := fmt.Errorf("login: %w", base)

	assert.Equal(t, ErrorTypeScanTimeout, TypeOf(outer))
	assert.True(t, IsType(outer, ErrorTypeScanTimeout))
	assert.False(t, IsType(nil, ErrorTypeScanTimeout))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(io.EOF))

	var e *Error
	assert.True(t, As(outer, &e))
	assert.Equal(t, "no scan", e.Message)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeProviderProtocol, false},
		{ErrorTypeLockBusy, false},
		{ErrorTypeScanTimeout, false},
		{ErrorTypeParsing, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.errType))
		})
	}
}
