package permitrelay

import (
	"context"
	"time"
)

// ============================================================================
// Relayer Hook Context Types
// ============================================================================

// ExecuteContext contains information passed to execute hooks
type ExecuteContext struct {
	Ctx             context.Context
	Request         Request
	Timestamp       time.Time
	RequestMetadata map[string]interface{}
}

// ExecuteResultContext contains a completed transfer and its context
type ExecuteResultContext struct {
	ExecuteContext
	Result   TransferResult
	Duration time.Duration
}

// ExecuteFailureContext contains a failed transfer and its context
type ExecuteFailureContext struct {
	ExecuteContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Relayer Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the request is rejected with the given Reason before
// validation, so nothing is consumed.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Relayer Hook Function Types
// ============================================================================

// BeforeExecuteHook is called before a request is validated
type BeforeExecuteHook func(ExecuteContext) (*BeforeHookResult, error)

// AfterExecuteHook is called after value has moved.
// Any error returned will be logged but will not affect the result
type AfterExecuteHook func(ExecuteResultContext) error

// OnExecuteFailureHook is called when validation or execution fails.
// Any error returned will be logged; the original failure is returned to the caller
type OnExecuteFailureHook func(ExecuteFailureContext) error
