package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Classification(t *testing.T) {
	cause := fmt.Errorf("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"configuration", NewConfigurationError("bad", cause), IsConfigurationError},
		{"launch", NewLaunchError("bad", cause), IsLaunchError},
		{"process", NewProcessError("bad", nil), IsProcessError},
		{"logchannel", NewLogChannelError("bad", nil), IsLogChannelError},
		{"validation", NewValidationError("bad", nil), IsValidationError},
		{"io", NewIOError("bad", nil), IsIOError},
		{"network", NewNetworkError("bad", nil), IsNetworkError},
		{"internal", NewInternalError("bad", nil), IsInternalError},
		{"cancelled", NewCancelledError("bad", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
		})
	}

	assert.False(t, IsLaunchError(NewConfigurationError("bad", nil)))
	assert.False(t, IsLaunchError(cause))
}

func TestDomainError_MessageAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("no such file")
	err := NewLaunchError("failed to spawn", cause).WithContext("pipeline", "worker")

	assert.Equal(t, "launch: failed to spawn: no such file", err.Error())
	assert.Equal(t, "worker", err.Context["pipeline"])
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, NewLaunchError("", nil)))
	assert.False(t, errors.Is(err, NewIOError("", nil)))

	assert.Equal(t, "io: closed", NewIOError("closed", nil).Error())
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())
	assert.Equal(t, "no errors", collection.Error())

	collection.Add(nil)
	collection.Add(NewIOError("first", nil))
	assert.Equal(t, "io: first", collection.Error())

	collection.Add(NewIOError("second", nil))
	assert.True(t, collection.HasErrors())
	assert.Error(t, collection.ToError())
	assert.Equal(t, "2 errors occurred: io: first", collection.Error())
}
