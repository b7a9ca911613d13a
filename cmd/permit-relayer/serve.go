package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/extensions/replay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
	"github.com/coinbase/permitrelay/mechanisms/evm/permit"
	"github.com/coinbase/permitrelay/mechanisms/evm/transfer"
	"github.com/coinbase/permitrelay/pkg/config"
	ginrelay "github.com/coinbase/permitrelay/pkg/gin"
	"github.com/coinbase/permitrelay/pkg/logger"
	"github.com/coinbase/permitrelay/pkg/tokenmetadata"
	evmsigners "github.com/coinbase/permitrelay/signers/evm"
)

func serveCommand() *cli.Command {
	defaults := config.NewRelayerConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP relayer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   defaults.RPCURL,
				EnvVars: []string{config.EnvRPCURL},
			},
			&cli.StringFlag{
				Name:     "private-key",
				Usage:    "Relayer execution key (hex). Prefer the environment variable",
				EnvVars:  []string{config.EnvPrivateKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "token-address",
				Aliases:  []string{"token"},
				Usage:    "EIP-2612 token contract",
				EnvVars:  []string{config.EnvTokenAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "relayer-address",
				Usage:    "Relayer contract exposing permitAndTransfer / permitAndBulkTransfer",
				EnvVars:  []string{config.EnvRelayerAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "fee-beneficiary",
				Usage:    "Address receiving relay fees",
				EnvVars:  []string{config.EnvFeeBeneficiary},
				Required: true,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   defaults.Port,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.StringFlag{
				Name:    "fingerprint-mode",
				Value:   defaults.FingerprintMode,
				Usage:   "signature or nonce",
				EnvVars: []string{config.EnvFingerprintMode},
			},
			&cli.StringFlag{
				Name:    "rollback-policy",
				Value:   defaults.RollbackPolicy,
				Usage:   "retain or release",
				EnvVars: []string{config.EnvRollbackPolicy},
			},
			&cli.IntFlag{
				Name:    "max-recipients",
				Value:   defaults.MaxRecipients,
				Usage:   "Maximum recipients in a bulk transfer",
				EnvVars: []string{config.EnvMaxRecipients},
			},
			&cli.StringFlag{
				Name:    "replay-store",
				Value:   string(defaults.ReplayStore),
				Usage:   "memory, redis or badger",
				EnvVars: []string{config.EnvReplayStore},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address for the redis replay store",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.StringFlag{
				Name:    "badger-path",
				Usage:   "Data directory for the badger replay store",
				EnvVars: []string{config.EnvBadgerPath},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Value:   defaults.RateLimit,
				Usage:   "Requests per second per client IP, 0 disables",
				EnvVars: []string{config.EnvRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   defaults.RateBurst,
				EnvVars: []string{config.EnvRateBurst},
			},
			&cli.DurationFlag{
				Name:    "metadata-ttl",
				Value:   defaults.MetadataTTL,
				Usage:   "How long token metadata is cached",
				EnvVars: []string{config.EnvMetadataTTL},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runServe,
	}
}

func parseRelayerConfig(c *cli.Context) *config.RelayerConfig {
	return &config.RelayerConfig{
		RPCURL:          c.String("rpc-url"),
		PrivateKey:      c.String("private-key"),
		TokenAddress:    c.String("token-address"),
		RelayerAddress:  c.String("relayer-address"),
		FeeBeneficiary:  c.String("fee-beneficiary"),
		Port:            c.Int("port"),
		FingerprintMode: c.String("fingerprint-mode"),
		RollbackPolicy:  c.String("rollback-policy"),
		MaxRecipients:   c.Int("max-recipients"),
		ReplayStore:     config.ReplayStoreKind(c.String("replay-store")),
		RedisAddress:    c.String("redis-address"),
		RedisPassword:   c.String("redis-password"),
		RedisDB:         c.Int("redis-db"),
		BadgerPath:      c.String("badger-path"),
		RateLimit:       c.Float64("rate-limit"),
		RateBurst:       c.Int("rate-burst"),
		MetadataTTL:     c.Duration("metadata-ttl"),
		Verbose:         c.Bool("verbose"),
	}
}

func runServe(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseRelayerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mode, err := evm.ParseFingerprintMode(cfg.FingerprintMode)
	if err != nil {
		return err
	}
	policy, _ := permit.ParseRollbackPolicy(cfg.RollbackPolicy)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := evmsigners.NewRelayerSigner(ctx, cfg.PrivateKey, cfg.RPCURL, l)
	if err != nil {
		return fmt.Errorf("failed to create relayer signer: %w", err)
	}
	defer backend.Close()

	ledger := evm.NewContractLedger(backend, cfg.Token(), cfg.Relayer())

	resolver := tokenmetadata.NewResolver(ledger, tokenmetadata.Config{TTL: cfg.MetadataTTL, Logger: l})
	metadata, err := resolver.GetMetadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve token metadata: %w", err)
	}

	store, err := newReplayStore(cfg, l)
	if err != nil {
		return err
	}
	registry := replay.NewRegistry(replay.WithStore(store), replay.WithLogger(l))
	defer func() {
		if err := registry.Close(); err != nil {
			l.Sugar().Warnw("Failed to close replay registry", "error", err)
		}
	}()

	validator := permit.NewValidator(ledger, registry,
		permit.WithMode(mode),
		permit.WithRollbackPolicy(policy),
		permit.WithSpender(cfg.Relayer()),
		permit.WithFeeBeneficiary(cfg.Beneficiary()),
		permit.WithMaxRecipients(cfg.MaxRecipients),
		permit.WithLogger(l),
	)
	executor := transfer.NewExecutor(ledger, registry, cfg.Beneficiary(),
		transfer.WithEventSink(transfer.NewLogSink(l)),
		transfer.WithLogger(l),
	)
	relayer := permitrelay.NewRelayer(validator, executor,
		permitrelay.WithMaxBulkRecipients(cfg.MaxRecipients),
		permitrelay.WithRelayerLogger(l),
	)

	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	ginrelay.Register(router, relayer,
		ginrelay.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		ginrelay.WithLogger(l),
		ginrelay.WithTokenMetadata(resolver),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.Sugar().Infow("Starting permit relayer",
		"port", cfg.Port,
		"relayerAccount", backend.Address().Hex(),
		"token", metadata.Token.Hex(),
		"tokenName", metadata.Name,
		"tokenVersion", metadata.Version,
		"chainId", metadata.ChainID.String(),
		"fingerprintMode", mode.String(),
		"rollbackPolicy", policy.String(),
		"replayStore", cfg.ReplayStore,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	l.Sugar().Infow("Shutting down permit relayer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newReplayStore(cfg *config.RelayerConfig, l *zap.Logger) (replay.Store, error) {
	switch cfg.ReplayStore {
	case config.ReplayStoreRedis:
		store, err := replay.NewRedisStore(&replay.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis replay store: %w", err)
		}
		return store, nil
	case config.ReplayStoreBadger:
		store, err := replay.NewBadgerStore(cfg.BadgerPath, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger replay store: %w", err)
		}
		return store, nil
	default:
		return replay.NewInMemoryStore(), nil
	}
}
