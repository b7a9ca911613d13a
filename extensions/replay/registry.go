package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
)

// Reader is the read-only view of the registry handed to components that
// must observe, but never change, consumption state.
type Reader interface {
	IsUsed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)
	IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)
}

// Registry records consumed permit fingerprints.
// The Unseen -> Consumed transition is atomic and, apart from an explicit
// Release, terminal. Consumed -> Validated is recorded only once every
// validation step has passed; executors require it.
type Registry struct {
	store  Store
	logger *zap.Logger
}

// NewRegistry creates a registry. Without options it uses an InMemoryStore.
func NewRegistry(opts ...Option) *Registry {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.store == nil {
		cfg.store = NewInMemoryStore()
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return &Registry{
		store:  cfg.store,
		logger: cfg.logger,
	}
}

// CheckAndMark consumes fp. It returns a permit_already_used RelayError if
// fp was consumed before, by this or any other caller.
func (r *Registry) CheckAndMark(ctx context.Context, fp permitrelay.Fingerprint) error {
	stored, err := r.store.MarkConsumed(ctx, fp)
	if err != nil {
		return fmt.Errorf("replay registry unavailable: %w", err)
	}
	if !stored {
		r.logger.Sugar().Infow("Rejected replayed permit", "fingerprint", fp.Hex())
		return permitrelay.NewRelayError(permitrelay.ErrCodePermitAlreadyUsed, "permit has already been used")
	}

	r.logger.Sugar().Debugw("Permit fingerprint consumed", "fingerprint", fp.Hex())
	return nil
}

// IsUsed reports whether fp has been consumed
func (r *Registry) IsUsed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	used, err := r.store.IsConsumed(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("replay registry unavailable: %w", err)
	}
	return used, nil
}

// Confirm marks a consumed fp as validated. Only a validator calls this,
// after its last check passes.
func (r *Registry) Confirm(ctx context.Context, fp permitrelay.Fingerprint) error {
	if err := r.store.MarkValidated(ctx, fp); err != nil {
		return fmt.Errorf("replay registry unavailable: %w", err)
	}
	r.logger.Sugar().Debugw("Permit fingerprint validated", "fingerprint", fp.Hex())
	return nil
}

// IsValidated reports whether fp was consumed by a validation that passed every step
func (r *Registry) IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	validated, err := r.store.IsValidated(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("replay registry unavailable: %w", err)
	}
	return validated, nil
}

// Release returns fp to Unseen. Only a validator's rollback policy calls this.
func (r *Registry) Release(ctx context.Context, fp permitrelay.Fingerprint) error {
	if err := r.store.Release(ctx, fp); err != nil {
		return fmt.Errorf("failed to release fingerprint: %w", err)
	}
	r.logger.Sugar().Infow("Permit fingerprint released", "fingerprint", fp.Hex())
	return nil
}

// Close closes the underlying store
func (r *Registry) Close() error {
	return r.store.Close()
}

var _ Reader = (*Registry)(nil)
