package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMessage(t *testing.T) {
	cause := errors.New("exec: \"sc\": executable file not found")
	err := NewPlatformError("unsupported platform", nil)
	assert.Equal(t, "platform: unsupported platform", err.Error())

	wrapped := NewInternalError("probe failed", cause)
	assert.Equal(t, "internal: probe failed: exec: \"sc\": executable file not found", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "validation", err: NewValidationError("bad service", nil), check: IsValidationError},
		{name: "platform", err: NewPlatformError("plan9", nil), check: IsPlatformError},
		{name: "config", err: NewConfigError("bad timeout", nil), check: IsConfigError},
		{name: "network", err: NewNetworkError("nats down", nil), check: IsNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)), "helpers must see through wrapping")
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestDomainErrorIsMatchesType(t *testing.T) {
	err := NewValidationError("missing action", nil).WithContext("key", "action")
	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypeValidation}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeInternal}))
	assert.Equal(t, "action", err.Context["key"])
}
