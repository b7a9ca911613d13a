package replay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
)

// Key prefixes for namespacing in Badger
const (
	badgerKeyPrefixConsumed  = "replay:"
	badgerKeyPrefixValidated = "validated:"
	badgerKeySchemaVersion   = "metadata:schema_version"

	// maxConflictRetries bounds retries of a transaction that lost a write race
	maxConflictRetries = 8
)

// BadgerStore is a durable Store backed by Badger. Check-and-mark runs in a
// single read-write transaction; Badger's conflict detection makes the
// loser of a concurrent race retry and observe the winner's write.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerStore opens (or creates) a Badger database at dataPath with
// SyncWrites enabled. A background goroutine runs value log GC.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger replay store initialized", "path", absPath)
	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(badgerKeySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(badgerKeySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}
		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func badgerKey(fp permitrelay.Fingerprint) []byte {
	return append([]byte(badgerKeyPrefixConsumed), fp[:]...)
}

func badgerValidatedKey(fp permitrelay.Fingerprint) []byte {
	return append([]byte(badgerKeyPrefixValidated), fp[:]...)
}

func unixValue() []byte {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(time.Now().Unix()))
	return value
}

// MarkConsumed atomically checks and marks fp, retrying on transaction conflicts
func (b *BadgerStore) MarkConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, fmt.Errorf("replay store is closed")
	}

	key := badgerKey(fp)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		var stored bool
		err := b.db.Update(func(txn *badgerdb.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}

			if err := txn.Set(key, unixValue()); err != nil {
				return err
			}
			stored = true
			return nil
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to mark fingerprint consumed: %w", err)
		}
		return stored, nil
	}
	return false, fmt.Errorf("failed to mark fingerprint consumed: too many transaction conflicts")
}

func (b *BadgerStore) IsConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	return b.hasKey(badgerKey(fp))
}

// MarkValidated sets the validated key in the same transaction that confirms fp is consumed
func (b *BadgerStore) MarkValidated(ctx context.Context, fp permitrelay.Fingerprint) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("replay store is closed")
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.db.Update(func(txn *badgerdb.Txn) error {
			if _, err := txn.Get(badgerKey(fp)); err != nil {
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					return fmt.Errorf("fingerprint %s is not consumed", fp.Hex())
				}
				return err
			}
			return txn.Set(badgerValidatedKey(fp), unixValue())
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to mark fingerprint validated: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to mark fingerprint validated: too many transaction conflicts")
}

func (b *BadgerStore) IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	return b.hasKey(badgerValidatedKey(fp))
}

func (b *BadgerStore) hasKey(key []byte) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, fmt.Errorf("replay store is closed")
	}

	var found bool
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read fingerprint: %w", err)
	}
	return found, nil
}

func (b *BadgerStore) Release(ctx context.Context, fp permitrelay.Fingerprint) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("replay store is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(badgerValidatedKey(fp)); err != nil {
			return err
		}
		return txn.Delete(badgerKey(fp))
	})
}

// Close stops GC and closes the database
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.gcCancel()
	b.gcWg.Wait()

	b.logger.Sugar().Infow("Closing Badger replay store")
	return b.db.Close()
}

// Ensure BadgerStore implements Store
var _ Store = (*BadgerStore)(nil)
