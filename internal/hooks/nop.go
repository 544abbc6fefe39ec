// Package hooks provides default implementations of types.Hooks.
package hooks

import (
	"context"

	"github.com/arloliu/docqueue/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, string, types.JobState, types.JobState) error = (*NopHooks)(nil).OnJobStateChanged
	_ func(context.Context, string, error) error                          = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnJobStateChanged: h.OnJobStateChanged,
		OnError:           h.OnError,
	}
}

// Fill returns h with every nil callback replaced by its no-op counterpart.
func Fill(h types.Hooks) types.Hooks {
	nop := NewNop()
	if h.OnJobStateChanged == nil {
		h.OnJobStateChanged = nop.OnJobStateChanged
	}
	if h.OnError == nil {
		h.OnError = nop.OnError
	}

	return h
}

// OnJobStateChanged is a no-op implementation.
func (h *NopHooks) OnJobStateChanged(_ context.Context, _ /* batchID */ string, _ /* from */, _ /* to */ types.JobState) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ /* batchID */ string, _ error) error {
	return nil
}
