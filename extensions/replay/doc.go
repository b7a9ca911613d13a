// Package replay provides the replay registry that guarantees every permit
// is consumed at most once.
//
// # Overview
//
// A permit is identified by its fingerprint, a keccak256 digest over the
// signed permit fields. The registry records fingerprints as consumed; the
// transition Unseen -> Consumed is terminal and the check-and-mark is atomic,
// so two concurrent validations of the same permit can never both succeed.
//
// # Stores
//
// The registry is backed by a Store. Three implementations are provided:
//   - InMemoryStore: a mutex-protected map, for single-instance relayers and tests
//   - RedisStore: SETNX on a shared Redis, for load-balanced relayers
//   - BadgerStore: a durable local database, for single-instance relayers that restart
//
// # Usage
//
// Default in-memory registry:
//
//	registry := replay.NewRegistry()
//
// Shared Redis registry:
//
//	store, err := replay.NewRedisStore(&replay.RedisConfig{Address: "localhost:6379"}, logger)
//	registry := replay.NewRegistry(
//	    replay.WithStore(store),
//	    replay.WithLogger(logger),
//	)
//
// # Release
//
// Release removes a fingerprint. It exists only so a validator can apply an
// explicit rollback policy; nothing else in the relayer calls it.
package replay
