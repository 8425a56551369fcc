package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/logger"
)

// HeadInfo represents the cached chain head
type HeadInfo struct {
	Number   uint64
	CachedAt time.Time
}

// HeadProvider provides cached access to the chain head block number.
// It reduces RPC calls to the node provider by caching the head for a
// configurable TTL period.
//
//go:generate mockgen -source=head.go -destination=../mocks/head_provider.go -package=mocks -mock_names=HeadProvider=MockHeadProvider,HeadFetcher=MockHeadFetcher
type HeadProvider interface {
	// GetHeadBlock returns the latest block number, potentially from cache
	GetHeadBlock(ctx context.Context) (uint64, error)
}

// HeadFetcher fetches the chain head from the node
type HeadFetcher interface {
	// HeadBlock returns the current chain head block number
	HeadBlock(ctx context.Context) (uint64, error)
}

// HeadConfig holds configuration for the HeadProvider
type HeadConfig struct {
	// TTL is how long to cache the head block number
	TTL time.Duration

	// StaleWindow is how long to keep serving stale data if fetching fails.
	// If the cached head is older than this and the fetch fails, return error.
	StaleWindow time.Duration
}

// headProvider implements HeadProvider with TTL-based caching
type headProvider struct {
	fetcher HeadFetcher
	config  HeadConfig
	clock   adapter.Clock

	mu   sync.RWMutex
	head *HeadInfo
}

// NewHeadProvider creates a new HeadProvider with caching
func NewHeadProvider(fetcher HeadFetcher, config HeadConfig, clock adapter.Clock) HeadProvider {
	return &headProvider{
		fetcher: fetcher,
		config:  config,
		clock:   clock,
	}
}

// GetHeadBlock returns the latest block number, using cache if valid
func (p *headProvider) GetHeadBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	// If cache is valid (within TTL), return cached value
	if cached != nil && now.Sub(cached.CachedAt) < p.config.TTL {
		logger.DebugCtx(ctx, "Using cached head block", zap.Uint64("block_number", cached.Number))
		return cached.Number, nil
	}

	// Cache expired or doesn't exist, fetch fresh data
	logger.DebugCtx(ctx, "Fetching head block from node provider")
	blockNumber, err := p.fetcher.HeadBlock(ctx)
	if err != nil {
		// If fetch failed, fall back to stale cache while within the stale window
		if cached != nil && now.Sub(cached.CachedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "Using stale head block", zap.Uint64("block_number", cached.Number))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch head block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	p.head = &HeadInfo{
		Number:   blockNumber,
		CachedAt: now,
	}
	p.mu.Unlock()

	return blockNumber, nil
}
