package tokenmetadata

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

// DefaultTTL is how long resolved metadata is cached
const DefaultTTL = 10 * time.Minute

// TokenMetadata is what the relayer knows about its token
type TokenMetadata struct {
	ChainID  *big.Int       `json:"chainId"`
	Token    common.Address `json:"tokenAddress"`
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Decimals int            `json:"decimals"`
	// NameFallback / VersionFallback report that the token does not expose the method
	NameFallback    bool `json:"nameFallback,omitempty"`
	VersionFallback bool `json:"versionFallback,omitempty"`
}

// Domain returns the EIP-712 token domain for this metadata
func (m *TokenMetadata) Domain() evm.TokenDomain {
	return evm.TokenDomain{
		Name:              m.Name,
		Version:           m.Version,
		ChainID:           new(big.Int).Set(m.ChainID),
		VerifyingContract: m.Token,
		Decimals:          m.Decimals,
	}
}

// Config contains configuration for the metadata resolver
type Config struct {
	// TTL is how long metadata stays cached.
	// Defaults to 10 minutes if not set, negative disables caching.
	TTL time.Duration
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Resolver fetches token metadata from the ledger and caches it.
// name() and version() fall back to defaults only when the token reports
// them as unsupported; any other read error fails resolution.
type Resolver struct {
	ledger permitrelay.Ledger
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    *TokenMetadata
	fetchedAt time.Time
}

// NewResolver creates a new metadata resolver
func NewResolver(ledger permitrelay.Ledger, config Config) *Resolver {
	ttl := config.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Resolver{
		ledger: ledger,
		ttl:    ttl,
		logger: logger,
		now:    now,
	}
}

// GetMetadata returns cached metadata or fetches it from the ledger
func (r *Resolver) GetMetadata(ctx context.Context) (*TokenMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.ttl > 0 && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.cached, nil
	}

	metadata, err := r.fetchMetadata(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = metadata
	r.fetchedAt = r.now()
	return metadata, nil
}

// Domain returns the EIP-712 token domain
func (r *Resolver) Domain(ctx context.Context) (evm.TokenDomain, error) {
	metadata, err := r.GetMetadata(ctx)
	if err != nil {
		return evm.TokenDomain{}, err
	}
	return metadata.Domain(), nil
}

// Invalidate drops the cached metadata
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

func (r *Resolver) fetchMetadata(ctx context.Context) (*TokenMetadata, error) {
	chainID, err := r.ledger.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	decimals, err := r.ledger.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token decimals: %w", err)
	}

	metadata := &TokenMetadata{
		ChainID:  chainID,
		Token:    r.ledger.Token(),
		Decimals: int(decimals),
	}

	metadata.Name, err = r.ledger.Name(ctx)
	if errors.Is(err, permitrelay.ErrNotSupported) {
		metadata.Name = evm.DefaultTokenName
		metadata.NameFallback = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token name: %w", err)
	}

	metadata.Version, err = r.ledger.Version(ctx)
	if errors.Is(err, permitrelay.ErrNotSupported) {
		metadata.Version = evm.DefaultTokenVersion
		metadata.VersionFallback = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token version: %w", err)
	}

	if metadata.NameFallback || metadata.VersionFallback {
		r.logger.Sugar().Warnw("token does not expose its EIP-712 domain, using fallbacks",
			"token", metadata.Token.Hex(),
			"name", metadata.Name,
			"version", metadata.Version,
		)
	}
	return metadata, nil
}
