package replay

import "go.uber.org/zap"

// config holds the configuration for Registry.
type config struct {
	store  Store
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*config)

// WithStore sets the Store backing the registry.
//
// Default: a new InMemoryStore
//
// Example:
//
//	badgerStore, err := replay.NewBadgerStore("/var/lib/relayer/replay", logger)
//	registry := replay.NewRegistry(replay.WithStore(badgerStore))
func WithStore(store Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithLogger sets the logger.
//
// Default: zap.NewNop()
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
