// Package ctxkeys carries run correlation values through a context so that
// agents can tag their logs without knowing about the executor.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

type key uint8

const (
	runIDKey key = iota + 1
	nodeIDKey
	attemptKey
)

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	return lookup[string](ctx, runIDKey)
}

// WithNodeID 设置当前执行的节点 ID
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// NodeID 获取节点 ID
func NodeID(ctx context.Context) (string, bool) {
	return lookup[string](ctx, nodeIDKey)
}

// WithAttempt records the 1-based invocation number of the current node.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// Attempt 获取当前调用序号
func Attempt(ctx context.Context) (int, bool) {
	return lookup[int](ctx, attemptKey)
}

// Fields returns the correlation values present in ctx as zap fields.
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if v, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := NodeID(ctx); ok {
		fields = append(fields, zap.String("node_id", v))
	}
	if v, ok := Attempt(ctx); ok {
		fields = append(fields, zap.Int("attempt", v))
	}
	return fields
}

// lookup treats the zero value as absent.
func lookup[T comparable](ctx context.Context, k key) (T, bool) {
	var zero T
	v, ok := ctx.Value(k).(T)
	if !ok || v == zero {
		return zero, false
	}
	return v, true
}
