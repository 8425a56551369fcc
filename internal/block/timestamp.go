package block

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/logger"
)

// TimestampProvider provides cached access to block timestamps.
// Timestamps of confirmed blocks are immutable so cached entries never expire.
//
//go:generate mockgen -source=timestamp.go -destination=../mocks/timestamp_provider.go -package=mocks -mock_names=TimestampProvider=MockTimestampProvider,TimestampFetcher=MockTimestampFetcher
type TimestampProvider interface {
	// GetBlockTimestamp returns the timestamp for a given block number, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// TimestampFetcher fetches block timestamps from the node
type TimestampFetcher interface {
	// BlockTime returns the timestamp of a block
	BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// timestampProvider implements TimestampProvider over a shared key-value cache
// so concurrent workers and restarts reuse fetched timestamps
type timestampProvider struct {
	fetcher TimestampFetcher
	cache   adapter.KVCache
	clock   adapter.Clock
}

// NewTimestampProvider creates a new TimestampProvider backed by cache
func NewTimestampProvider(fetcher TimestampFetcher, cache adapter.KVCache, clock adapter.Clock) TimestampProvider {
	return &timestampProvider{
		fetcher: fetcher,
		cache:   cache,
		clock:   clock,
	}
}

func timestampCacheKey(blockNumber uint64) string {
	return fmt.Sprintf("block:%d:timestamp", blockNumber)
}

// GetBlockTimestamp returns the timestamp for a given block number, using
// cache if present. Cache failures degrade to an upstream fetch rather than
// failing the lookup.
func (p *timestampProvider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	key := timestampCacheKey(blockNumber)

	cached, err := p.cache.Get(ctx, key)
	if err == nil {
		unix, parseErr := strconv.ParseInt(cached, 10, 64)
		if parseErr == nil {
			return p.clock.Unix(unix, 0), nil
		}
		logger.WarnCtx(ctx, "Discarding unparsable cached block timestamp",
			zap.Uint64("block_number", blockNumber),
			zap.String("value", cached))
	} else if !errors.Is(err, adapter.ErrCacheMiss) {
		logger.WarnCtx(ctx, "Block timestamp cache lookup failed",
			zap.Uint64("block_number", blockNumber),
			zap.Error(err))
	}

	timestamp, err := p.fetcher.BlockTime(ctx, blockNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch timestamp for block %d: %w", blockNumber, err)
	}

	// Confirmed block timestamps never change so the entry gets no expiry
	if err := p.cache.Set(ctx, key, strconv.FormatInt(timestamp.Unix(), 10), 0); err != nil {
		logger.WarnCtx(ctx, "Failed to cache block timestamp",
			zap.Uint64("block_number", blockNumber),
			zap.Error(err))
	}

	return timestamp, nil
}
