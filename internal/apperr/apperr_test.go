package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsChain(t *testing.T) {
	base := NewConfigurationMissing(ReasonNoChannelConfigured, "no channel configured").
		WithDetail("user_id", int64(7))
	wrapped := fmt.Errorf("grant: %w", base)

	assert.Equal(t, CodeConfigurationMissing, CodeOf(wrapped))
	assert.Equal(t, ReasonNoChannelConfigured, ReasonOf(wrapped))

	v, ok := Detail(wrapped, "user_id")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)
}

func TestCodeOfUnclassified(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, Reason(""), ReasonOf(err))
	assert.False(t, IsPermissionDenied(nil))
}

func TestErrorString(t *testing.T) {
	err := NewExternalFailure("create invite link", errors.New("timeout"))
	assert.Equal(t, "[EXTERNAL_SERVICE_FAILURE] create invite link failed: timeout", err.Error())
	assert.True(t, errors.Is(err, err.Cause))

	err = NewPermissionDenied(ReasonNotAdmin, "admin only")
	assert.Equal(t, "[PERMISSION_DENIED/NotAdmin] admin only", err.Error())
}
