package replay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
)

// Key prefixes for namespacing in Redis
const (
	redisKeyPrefixConsumed  = "permitrelay:replay:"
	redisKeyPrefixValidated = "permitrelay:validated:"
	redisKeySchemaVersion   = "permitrelay:metadata:schema_version"
	currentSchemaVersion    = "v1"
)

// RedisStore is a Store backed by Redis. Consumption uses SETNX so the
// check-and-mark is atomic across every relayer sharing the database.
// Keys are written without expiry.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups),
	// e.g. "base-usdc:" results in keys like "base-usdc:permitrelay:replay:0x...".
	KeyPrefix string
}

// NewRedisStore creates a new Redis-backed replay store.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis replay store initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisStore) fingerprintKey(fp permitrelay.Fingerprint) string {
	return r.prefixKey(redisKeyPrefixConsumed + fp.Hex())
}

func (r *RedisStore) validatedKey(fp permitrelay.Fingerprint) string {
	return r.prefixKey(redisKeyPrefixValidated + fp.Hex())
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(redisKeySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// MarkConsumed records fp with SETNX; the value is the unix time of consumption
func (r *RedisStore) MarkConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, fmt.Errorf("replay store is closed")
	}

	stored, err := r.client.SetNX(ctx, r.fingerprintKey(fp), strconv.FormatInt(time.Now().Unix(), 10), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark fingerprint consumed: %w", err)
	}
	return stored, nil
}

func (r *RedisStore) IsConsumed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, fmt.Errorf("replay store is closed")
	}

	n, err := r.client.Exists(ctx, r.fingerprintKey(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read fingerprint: %w", err)
	}
	return n > 0, nil
}

// markValidatedScript sets the validated key only while the consumed key exists
var markValidatedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[1])
return 1
`)

func (r *RedisStore) MarkValidated(ctx context.Context, fp permitrelay.Fingerprint) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("replay store is closed")
	}

	keys := []string{r.fingerprintKey(fp), r.validatedKey(fp)}
	set, err := markValidatedScript.Run(ctx, r.client, keys, strconv.FormatInt(time.Now().Unix(), 10)).Int()
	if err != nil {
		return fmt.Errorf("failed to mark fingerprint validated: %w", err)
	}
	if set == 0 {
		return fmt.Errorf("fingerprint %s is not consumed", fp.Hex())
	}
	return nil
}

func (r *RedisStore) IsValidated(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, fmt.Errorf("replay store is closed")
	}

	n, err := r.client.Exists(ctx, r.validatedKey(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read fingerprint: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Release(ctx context.Context, fp permitrelay.Fingerprint) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("replay store is closed")
	}

	if err := r.client.Del(ctx, r.validatedKey(fp), r.fingerprintKey(fp)).Err(); err != nil {
		return fmt.Errorf("failed to release fingerprint: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.logger.Sugar().Infow("Closing Redis replay store")
	return r.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
