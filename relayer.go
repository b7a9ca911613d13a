package permitrelay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Relayer accepts signed permits and executes the transfers they authorize.
// Every request is validated (which consumes its fingerprint) before the
// executor is allowed to move value.
type Relayer struct {
	mu sync.RWMutex

	validator     PermitValidator
	executor      TransferExecutor
	maxRecipients int
	logger        *zap.Logger

	// Lifecycle hooks
	beforeExecuteHooks    []BeforeExecuteHook
	afterExecuteHooks     []AfterExecuteHook
	onExecuteFailureHooks []OnExecuteFailureHook
}

// RelayerOption configures a Relayer
type RelayerOption func(*Relayer)

// WithMaxBulkRecipients caps bulk recipient lists.
//
// Default: DefaultMaxBulkRecipients
func WithMaxBulkRecipients(n int) RelayerOption {
	return func(r *Relayer) {
		r.maxRecipients = n
	}
}

// WithRelayerLogger sets the logger.
//
// Default: zap.NewNop()
func WithRelayerLogger(logger *zap.Logger) RelayerOption {
	return func(r *Relayer) {
		r.logger = logger
	}
}

// NewRelayer creates a relayer from a validator and an executor sharing the
// same replay registry and ledger.
func NewRelayer(validator PermitValidator, executor TransferExecutor, opts ...RelayerOption) *Relayer {
	r := &Relayer{
		validator:     validator,
		executor:      executor,
		maxRecipients: DefaultMaxBulkRecipients,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (r *Relayer) OnBeforeExecute(hook BeforeExecuteHook) *Relayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeExecuteHooks = append(r.beforeExecuteHooks, hook)
	return r
}

func (r *Relayer) OnAfterExecute(hook AfterExecuteHook) *Relayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterExecuteHooks = append(r.afterExecuteHooks, hook)
	return r
}

func (r *Relayer) OnExecuteFailure(hook OnExecuteFailureHook) *Relayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExecuteFailureHooks = append(r.onExecuteFailureHooks, hook)
	return r
}

// ============================================================================
// Core Relay Methods
// ============================================================================

// ExecuteSingleTransfer validates req and moves Value minus Fee to its recipient
func (r *Relayer) ExecuteSingleTransfer(ctx context.Context, req *PermitRequest) (*TransferResult, error) {
	if req == nil {
		return nil, NewRelayError(ErrCodeInvalidRecipient, "missing request")
	}
	return r.execute(ctx, req, nil)
}

// ExecuteBulkTransfer validates req and pays every recipient in one atomic batch
func (r *Relayer) ExecuteBulkTransfer(ctx context.Context, req *BulkPermitRequest) (*TransferResult, error) {
	if req == nil {
		return nil, NewRelayError(ErrCodeInvalidRecipient, "missing request")
	}
	if len(req.Recipients) > r.maxRecipients {
		return nil, Errorf(ErrCodeBatchTooLarge, "%d recipients exceeds the limit of %d", len(req.Recipients), r.maxRecipients)
	}
	return r.execute(ctx, req, nil)
}

// Execute dispatches req by kind. metadata is handed to hooks unchanged.
func (r *Relayer) Execute(ctx context.Context, req Request, metadata map[string]interface{}) (*TransferResult, error) {
	switch v := req.(type) {
	case *PermitRequest:
		if v == nil {
			break
		}
		return r.execute(ctx, v, metadata)
	case *BulkPermitRequest:
		if v == nil {
			break
		}
		if len(v.Recipients) > r.maxRecipients {
			return nil, Errorf(ErrCodeBatchTooLarge, "%d recipients exceeds the limit of %d", len(v.Recipients), r.maxRecipients)
		}
		return r.execute(ctx, v, metadata)
	}
	return nil, NewRelayError(ErrCodeInvalidRecipient, "missing request")
}

// IsPermitUsed reports whether the permit with fingerprint fp has been consumed
func (r *Relayer) IsPermitUsed(ctx context.Context, fp Fingerprint) (bool, error) {
	return r.validator.IsPermitUsed(ctx, fp)
}

// ComputeFingerprint returns the registry key req would be consumed under
func (r *Relayer) ComputeFingerprint(ctx context.Context, req Request) (Fingerprint, error) {
	return r.validator.ComputeFingerprint(ctx, req)
}

func (r *Relayer) execute(ctx context.Context, req Request, metadata map[string]interface{}) (*TransferResult, error) {
	r.mu.RLock()
	before := r.beforeExecuteHooks
	after := r.afterExecuteHooks
	onFailure := r.onExecuteFailureHooks
	r.mu.RUnlock()

	start := time.Now()
	hookCtx := ExecuteContext{
		Ctx:             ctx,
		Request:         req,
		Timestamp:       start,
		RequestMetadata: metadata,
	}

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, Errorf(ErrCodeAborted, "before hook failed: %v", err)
		}
		if result != nil && result.Abort {
			return nil, NewRelayError(ErrCodeAborted, result.Reason)
		}
	}

	result, err := r.validateAndExecute(ctx, req)
	if err != nil {
		failureCtx := ExecuteFailureContext{ExecuteContext: hookCtx, Error: err, Duration: time.Since(start)}
		for _, hook := range onFailure {
			if hookErr := hook(failureCtx); hookErr != nil {
				r.logger.Sugar().Warnw("Execute failure hook failed", "error", hookErr)
			}
		}
		return nil, err
	}

	resultCtx := ExecuteResultContext{ExecuteContext: hookCtx, Result: *result, Duration: time.Since(start)}
	for _, hook := range after {
		if hookErr := hook(resultCtx); hookErr != nil {
			r.logger.Sugar().Warnw("After execute hook failed", "error", hookErr)
		}
	}
	return result, nil
}

func (r *Relayer) validateAndExecute(ctx context.Context, req Request) (*TransferResult, error) {
	validated, err := r.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.executor.Execute(ctx, validated)
}
