package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"

	permitrelay "github.com/coinbase/permitrelay"
)

// Environment variable names for the relayer
const (
	EnvRPCURL          = "PERMITRELAY_RPC_URL"
	EnvPrivateKey      = "PERMITRELAY_PRIVATE_KEY"
	EnvTokenAddress    = "PERMITRELAY_TOKEN_ADDRESS"
	EnvRelayerAddress  = "PERMITRELAY_RELAYER_ADDRESS"
	EnvFeeBeneficiary  = "PERMITRELAY_FEE_BENEFICIARY"
	EnvPort            = "PERMITRELAY_PORT"
	EnvFingerprintMode = "PERMITRELAY_FINGERPRINT_MODE"
	EnvRollbackPolicy  = "PERMITRELAY_ROLLBACK_POLICY"
	EnvReplayStore     = "PERMITRELAY_REPLAY_STORE"
	EnvRedisAddress    = "PERMITRELAY_REDIS_ADDRESS"
	EnvRedisPassword   = "PERMITRELAY_REDIS_PASSWORD"
	EnvRedisDB         = "PERMITRELAY_REDIS_DB"
	EnvBadgerPath      = "PERMITRELAY_BADGER_PATH"
	EnvMaxRecipients   = "PERMITRELAY_MAX_RECIPIENTS"
	EnvRateLimit       = "PERMITRELAY_RATE_LIMIT"
	EnvRateBurst       = "PERMITRELAY_RATE_BURST"
	EnvMetadataTTL     = "PERMITRELAY_METADATA_TTL"
	EnvVerbose         = "PERMITRELAY_VERBOSE"
)

// ReplayStoreKind selects the replay registry backend
type ReplayStoreKind string

const (
	ReplayStoreMemory ReplayStoreKind = "memory"
	ReplayStoreRedis  ReplayStoreKind = "redis"
	ReplayStoreBadger ReplayStoreKind = "badger"
)

// Defaults
const (
	DefaultPort        = 8080
	DefaultRPCURL      = "http://localhost:8545"
	DefaultRateLimit   = 10.0
	DefaultRateBurst   = 20
	DefaultMetadataTTL = 10 * time.Minute
)

// RelayerConfig represents the complete configuration of a relayer process
type RelayerConfig struct {
	RPCURL string `json:"rpc_url"`
	// PrivateKey is the relayer's execution key. It is never logged or serialized.
	PrivateKey string `json:"-"`

	TokenAddress   string `json:"token_address"`
	RelayerAddress string `json:"relayer_address"` // contract exposing permitAndTransfer
	FeeBeneficiary string `json:"fee_beneficiary"`

	Port            int    `json:"port"`
	FingerprintMode string `json:"fingerprint_mode"`
	RollbackPolicy  string `json:"rollback_policy"`
	MaxRecipients   int    `json:"max_recipients"`

	ReplayStore   ReplayStoreKind `json:"replay_store"`
	RedisAddress  string          `json:"redis_address"`
	RedisPassword string          `json:"-"`
	RedisDB       int             `json:"redis_db"`
	BadgerPath    string          `json:"badger_path"`

	RateLimit   float64       `json:"rate_limit"` // requests per second per client, 0 disables
	RateBurst   int           `json:"rate_burst"`
	MetadataTTL time.Duration `json:"metadata_ttl"`

	Verbose bool `json:"verbose"`
}

// NewRelayerConfig returns a config populated with defaults
func NewRelayerConfig() *RelayerConfig {
	return &RelayerConfig{
		RPCURL:          DefaultRPCURL,
		Port:            DefaultPort,
		FingerprintMode: "signature",
		RollbackPolicy:  "retain",
		MaxRecipients:   permitrelay.DefaultMaxBulkRecipients,
		ReplayStore:     ReplayStoreMemory,
		RateLimit:       DefaultRateLimit,
		RateBurst:       DefaultRateBurst,
		MetadataTTL:     DefaultMetadataTTL,
	}
}

// Validate validates the relayer configuration, reporting every problem at once
func (c *RelayerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.RPCURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpc url is required"))
	}

	if c.PrivateKey == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("privateKey"), "relayer private key is required"))
	} else if key := strings.TrimPrefix(c.PrivateKey, "0x"); len(key) != 64 {
		// the key itself is never echoed back
		allErrors = append(allErrors, field.Invalid(field.NewPath("privateKey"), "<redacted>",
			fmt.Sprintf("must be 32 bytes (64 hex chars), got %d chars", len(key))))
	}

	for name, addr := range map[string]string{
		"tokenAddress":   c.TokenAddress,
		"relayerAddress": c.RelayerAddress,
		"feeBeneficiary": c.FeeBeneficiary,
	} {
		path := field.NewPath(name)
		switch {
		case addr == "":
			allErrors = append(allErrors, field.Required(path, name+" is required"))
		case !common.IsHexAddress(addr):
			allErrors = append(allErrors, field.Invalid(path, addr, "invalid address format"))
		case common.HexToAddress(addr) == (common.Address{}):
			allErrors = append(allErrors, field.Invalid(path, addr, "must not be the zero address"))
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}
	if c.FingerprintMode != "signature" && c.FingerprintMode != "nonce" {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("fingerprintMode"), c.FingerprintMode,
			[]string{"signature", "nonce"}))
	}
	if c.RollbackPolicy != "retain" && c.RollbackPolicy != "release" {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("rollbackPolicy"), c.RollbackPolicy,
			[]string{"retain", "release"}))
	}
	if c.MaxRecipients < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxRecipients"), c.MaxRecipients, "must be positive"))
	}

	switch c.ReplayStore {
	case ReplayStoreMemory:
	case ReplayStoreRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "required for the redis replay store"))
		}
	case ReplayStoreBadger:
		if c.BadgerPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("badgerPath"), "required for the badger replay store"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("replayStore"), string(c.ReplayStore),
			[]string{string(ReplayStoreMemory), string(ReplayStoreRedis), string(ReplayStoreBadger)}))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be positive when rate limiting"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// Token returns the parsed token address
func (c *RelayerConfig) Token() common.Address {
	return common.HexToAddress(c.TokenAddress)
}

// Relayer returns the parsed relayer contract address
func (c *RelayerConfig) Relayer() common.Address {
	return common.HexToAddress(c.RelayerAddress)
}

// Beneficiary returns the parsed fee beneficiary address
func (c *RelayerConfig) Beneficiary() common.Address {
	return common.HexToAddress(c.FeeBeneficiary)
}
