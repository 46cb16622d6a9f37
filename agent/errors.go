package agent

import (
	"context"
	"errors"

	"github.com/BaSui01/agentgraph/types"
)

var (
	// ErrTimeout Agent 调用超时
	ErrTimeout = types.NewError(types.ErrAgentTimeout, "agent call timed out").WithRetryable(true)

	// ErrProvider 上游 Provider 失败
	ErrProvider = types.NewError(types.ErrProviderError, "provider error").WithRetryable(true)

	// ErrInvalidResponse 响应无法使用
	ErrInvalidResponse = types.NewError(types.ErrInvalidResponse, "invalid response").WithRetryable(true)

	// ErrProviderNotSet LLM Provider 未设置
	ErrProviderNotSet = errors.New("llm provider not set")
)

// Timeout returns a timeout error.
func Timeout(message string) *types.Error {
	return types.NewError(types.ErrAgentTimeout, message).WithRetryable(true)
}

// ProviderError returns a provider error carrying message.
func ProviderError(message string) *types.Error {
	return types.NewError(types.ErrProviderError, message).WithRetryable(true)
}

// InvalidResponse returns an invalid-response error.
func InvalidResponse(message string) *types.Error {
	return types.NewError(types.ErrInvalidResponse, message).WithRetryable(true)
}

// Classify maps any error returned by an agent to one of the agent error
// kinds. Errors that already carry an agent code are returned unchanged;
// deadline errors become timeouts; everything else is a provider error.
func Classify(err error) *types.Error {
	if err == nil {
		return nil
	}
	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.ErrAgentTimeout, types.ErrProviderError, types.ErrInvalidResponse:
			return e
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("agent call timed out").WithCause(err)
	}
	return ProviderError(err.Error()).WithCause(err)
}
