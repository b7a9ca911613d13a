package replay

import (
	"context"

	permitrelay "github.com/coinbase/permitrelay"
)

// Store defines the interface for replay registry storage.
// Implementations must be safe for concurrent use, including across
// processes when the backend is shared.
type Store interface {
	// MarkConsumed atomically records fp as consumed.
	//
	// Returns:
	//   - true if this call consumed fp
	//   - false if fp was already consumed
	MarkConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)

	// IsConsumed reports whether fp has been consumed
	IsConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)

	// MarkValidated records that a consumed fp passed every validation step.
	// It fails if fp is not consumed.
	MarkValidated(ctx context.Context, fp permitrelay.Fingerprint) error

	// IsValidated reports whether fp has been marked validated
	IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)

	// Release removes fp, and any validated mark, so it may be consumed again
	Release(ctx context.Context, fp permitrelay.Fingerprint) error

	// Close releases any resources held by the store
	Close() error
}
