package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/block"
	"github.com/collectible-market/chain-sync/internal/chain"
	"github.com/collectible-market/chain-sync/internal/config"
	"github.com/collectible-market/chain-sync/internal/logger"
	"github.com/collectible-market/chain-sync/internal/providers/jetstream"
	"github.com/collectible-market/chain-sync/internal/store"
	"github.com/collectible-market/chain-sync/internal/sync"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadChainSyncConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "chain-sync",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Chain Sync")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("dsn", cfg.Database.DSN()))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Initialize timestamp cache
	cache := adapter.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		logger.FatalCtx(ctx, "Failed to connect to Redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
	}
	logger.InfoCtx(ctx, "Connected to Redis")

	// Initialize chain client
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Ethereum.WebSocketURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("websocket_url", cfg.Ethereum.WebSocketURL))
	}
	logSource := chain.NewClient(cfg.Ethereum.ContractAddress, ethClient, clockAdapter)
	defer logSource.Close()
	logger.InfoCtx(ctx, "Connected to Ethereum WebSocket")

	// Initialize block providers
	headProvider := block.NewHeadProvider(logSource, block.HeadConfig{
		TTL:         cfg.Ethereum.BlockHeadTTL,
		StaleWindow: cfg.Ethereum.BlockHeadStaleWindow,
	}, clockAdapter)
	timestampProvider := block.NewTimestampProvider(logSource, cache, clockAdapter)

	// Initialize NATS publisher
	natsPublisher, err := jetstream.NewPublisher(
		ctx,
		jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer natsPublisher.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Create the sync engine
	projector := sync.NewProjector(dataStore, timestampProvider, natsPublisher, jsonAdapter)
	engine := sync.NewEngine(logSource, dataStore, projector, headProvider, clockAdapter, sync.EngineConfig{
		StartBlock:    cfg.Ethereum.StartBlock,
		Confirmations: cfg.Ethereum.Confirmations,
		PageBlocks:    cfg.Ethereum.LogPageBlocks,
		PoolSize:      cfg.Worker.PoolSize,
		PoolQueueSize: cfg.Worker.QueueSize,
	})

	// Channel for engine errors
	errCh := make(chan error, 1)

	// Start the engine
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case <-natsPublisher.CloseChan():
		logger.InfoCtx(ctx, "NATS connection closed unexpectedly")
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "engine"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Chain Sync stopped")
}
