package custom_errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Add(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	v.Add(nil)
	assert.False(t, v.HasError())

	v.Add(errors.New("batch size must be positive"))
	v.Add(errors.New("retry delay must be positive"))
	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "batch size must be positive")
	assert.Contains(t, v.Error(), "retry delay must be positive")
}

func TestValidationError_Unwrap(t *testing.T) {
	v := &ValidationError{}
	v.Add(ErrInvalidPayload)

	assert.True(t, errors.Is(v, ErrInvalidPayload))
	assert.False(t, errors.Is(v, ErrHandlerNotFound))
}
