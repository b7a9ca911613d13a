package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	permitrelay "github.com/coinbase/permitrelay"
)

// InMemoryStore provides an in-memory implementation of Store.
//
// This implementation is suitable for single-instance deployments where
// registry state doesn't need to be shared across processes or survive a
// restart. Entries never expire.
type InMemoryStore struct {
	mu        sync.Mutex
	consumed  map[permitrelay.Fingerprint]time.Time
	validated map[permitrelay.Fingerprint]time.Time
}

// NewInMemoryStore creates a new in-memory replay store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		consumed:  make(map[permitrelay.Fingerprint]time.Time),
		validated: make(map[permitrelay.Fingerprint]time.Time),
	}
}

// MarkConsumed atomically checks and marks fp
func (s *InMemoryStore) MarkConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumed[fp]; exists {
		return false, nil
	}
	s.consumed[fp] = time.Now()
	return true, nil
}

func (s *InMemoryStore) IsConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.consumed[fp]
	return exists, nil
}

func (s *InMemoryStore) MarkValidated(ctx context.Context, fp permitrelay.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumed[fp]; !exists {
		return fmt.Errorf("fingerprint %s is not consumed", fp.Hex())
	}
	s.validated[fp] = time.Now()
	return nil
}

func (s *InMemoryStore) IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.validated[fp]
	return exists, nil
}

func (s *InMemoryStore) Release(ctx context.Context, fp permitrelay.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.consumed, fp)
	delete(s.validated, fp)
	return nil
}

// Len returns the number of consumed fingerprints
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumed)
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Ensure InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)
