package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProviderError, "upstream failed").
		WithCause(root).
		WithRetryable(true).
		WithProvider("openai")

	assert.Equal(t, ErrProviderError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[PROVIDER_ERROR] upstream failed: root", err.Error())
}

func TestError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	sentinel := NewError(ErrGraphCycle, "cycle detected")
	err := Errorf(ErrGraphCycle, "edge %s -> %s would create a cycle", "b", "a")

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, NewError(ErrGraphUnknownNode, "unknown")))

	wrapped := fmt.Errorf("build: %w", err)
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.True(t, IsErrorCode(wrapped, ErrGraphCycle))
}

func TestError_NonStructured(t *testing.T) {
	t.Parallel()

	err := errors.New("plain")
	assert.Equal(t, ErrorCode(""), GetErrorCode(err))
	assert.False(t, IsRetryable(err))
	_, ok := AsError(err)
	assert.False(t, ok)
}
