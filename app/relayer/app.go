package relayer

import (
	"context"
	"math/big"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ufedojoa/townsquare/app/relayer/jobs"
	"github.com/ufedojoa/townsquare/app/relayer/types"
	"github.com/ufedojoa/townsquare/pkg/cache"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/logging"
	"github.com/ufedojoa/townsquare/pkg/metrics"
	"github.com/ufedojoa/townsquare/pkg/redis"
	"github.com/ufedojoa/townsquare/pkg/tokeninfo"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"github.com/ufedojoa/townsquare/pkg/utils"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap"
)

// Initialize wires the relayer from the environment. Missing required
// settings are fatal.
func Initialize(ctx context.Context) (*types.App, *jobs.Invalidator) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg := types.Config{
		Addr:            utils.Env("ADDR", ":3002"),
		ChainID:         utils.EnvUint64("CHAIN_ID", 0),
		CORSOrigins:     utils.SplitList(utils.Env("CORS_ORIGINS", "")),
		RefreshSchedule: utils.Env("CACHE_REFRESH_SCHEDULE", jobs.DefaultRefreshSchedule),
		InstanceID:      utils.Env("INSTANCE_ID", uuid.NewString()),
	}
	if cfg.ChainID == 0 {
		logger.Fatal("CHAIN_ID is required")
	}
	if token := utils.Env("ADMIN_TOKEN", ""); token != "" {
		if cfg.AdminTokenHash, err = utils.HashOrRead(token); err != nil {
			logger.Fatal("Unable to hash ADMIN_TOKEN", zap.Error(err))
		}
	} else {
		logger.Warn("ADMIN_TOKEN not set - admin routes will reject every request")
	}

	m, err := metrics.New()
	if err != nil {
		logger.Fatal("Unable to register metrics", zap.Error(err))
	}

	contract := utils.Env("CONTRACT_ADDRESS", "")
	if !common.IsHexAddress(contract) {
		logger.Fatal("CONTRACT_ADDRESS is missing or invalid", zap.String("value", contract))
	}
	key, err := crypto.HexToECDSA(trimHex(utils.Env("RELAYER_PRIVATE_KEY", "")))
	if err != nil {
		logger.Fatal("RELAYER_PRIVATE_KEY is missing or invalid")
	}

	lc, err := ledger.Dial(ctx, utils.Env("RPC_URL", "http://localhost:8545"), ledger.Opts{
		Contract:       common.HexToAddress(contract),
		ChainID:        new(big.Int).SetUint64(cfg.ChainID),
		Key:            key,
		CallTimeout:    utils.EnvDuration("LEDGER_CALL_TIMEOUT", ledger.DefaultCallTimeout),
		ReceiptTimeout: utils.EnvDuration("LEDGER_RECEIPT_TIMEOUT", ledger.DefaultReceiptTimeout),
		Observer:       m.ObserveLedgerCall,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Unable to connect to the ledger", zap.Error(err))
	}
	logger.Info("Relayer account ready", zap.String("account", lc.Account().Hex()), zap.Uint64("chainId", cfg.ChainID))

	tokens, err := tokeninfo.New(tokeninfo.Opts{
		Endpoints: utils.SplitList(utils.Env("TOKEN_API_URL", "")),
		Timeout:   utils.EnvDuration("TOKEN_API_TIMEOUT", 0),
		RPS:       utils.EnvInt("TOKEN_API_RPS", 0),
		ChainID:   cfg.ChainID,
		DevStub:   utils.EnvBool("TOKEN_DEV_STUB", false),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Unable to configure token metadata lookup", zap.Error(err))
	}

	// Initialize Redis client for cross-instance invalidation (optional)
	var redisClient *redis.Client
	var publisher jobs.Publisher
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - cache invalidation stays local", zap.Error(err))
			redisClient = nil
		} else {
			publisher = redisClient
		}
	} else {
		logger.Info("Redis disabled - cache invalidation stays local")
	}

	entityCache := cache.New(cache.WithRecorder(m))
	domain := townsquare.New(lc, tokens, townsquare.WithCache(entityCache), townsquare.WithLogger(logger))
	invalidator := jobs.NewInvalidator(entityCache, cfg.InstanceID, m, publisher, logger)

	pool := pond.NewPool(utils.EnvInt("WORKER_POOL_SIZE", 32))
	authorizer := vote.NewAuthorizer(lc, vote.Opts{
		ChainID:      cfg.ChainID,
		RelayTimeout: utils.EnvDuration("RELAY_TIMEOUT", vote.DefaultRelayTimeout),
		Pool:         pool,
		OnSubmitted:  invalidator.OnSubmitted,
		Observe:      m.ObserveVote,
		Logger:       logger,
	})

	scheduler := cron.New()
	refresher := jobs.NewRefresher(domain, pool, m, logger)
	if _, err := refresher.Schedule(scheduler, cfg.RefreshSchedule); err != nil {
		logger.Fatal("Invalid CACHE_REFRESH_SCHEDULE", zap.String("schedule", cfg.RefreshSchedule), zap.Error(err))
	}

	app := &types.App{
		Config:      cfg,
		Ledger:      lc,
		Domain:      domain,
		Authorizer:  authorizer,
		Metrics:     m,
		RedisClient: redisClient,
		Pool:        pool,
		Cron:        scheduler,
		Closers:     []func() error{func() error { lc.Close(); return nil }},
		Logger:      logger,
	}
	if redisClient != nil {
		app.Closers = append(app.Closers, redisClient.Close)
		go func() {
			if err := invalidator.Run(ctx, redisClient); err != nil && ctx.Err() == nil {
				logger.Error("Invalidation subscriber stopped", zap.Error(err))
			}
		}()
	}
	return app, invalidator
}

func trimHex(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
