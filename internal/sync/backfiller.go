package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/chain"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
)

// Backfiller walks historical logs of one kind from a cursor up to a target
// block, projecting every page through the shared projection path. Walks are
// resumable: the returned cursor can seed the next run and re-covered ranges
// collapse in the store.
type Backfiller struct {
	source     chain.LogSource
	projector  Projector
	pool       pond.Pool
	pageBlocks uint64
}

// NewBackfiller creates a Backfiller paging pageBlocks blocks per query and
// mapping page logs concurrently on the given pool
func NewBackfiller(source chain.LogSource, projector Projector, pool pond.Pool, pageBlocks uint64) *Backfiller {
	if pageBlocks == 0 {
		pageBlocks = 1
	}
	return &Backfiller{
		source:     source,
		projector:  projector,
		pool:       pool,
		pageBlocks: pageBlocks,
	}
}

// Run walks [cursor.FromBlock, target] and returns the cursor to resume from.
// An already-exhausted range returns the cursor unchanged. Undecodable logs
// are logged and skipped; any store or RPC failure aborts the walk.
func (b *Backfiller) Run(ctx context.Context, kind domain.EventKind, cursor Cursor, target uint64) (Cursor, error) {
	if cursor.FromBlock > target {
		return cursor, nil
	}

	logger.InfoCtx(ctx, "Backfill started",
		zap.String("kind", string(kind)),
		zap.Uint64("from_block", cursor.FromBlock),
		zap.Uint64("target_block", target))

	for {
		toBlock := min(cursor.FromBlock+b.pageBlocks-1, target)

		logs, err := b.source.FilterLogs(ctx, kind, cursor.FromBlock, toBlock)
		if err != nil {
			return cursor, fmt.Errorf("backfill page %d-%d failed: %w", cursor.FromBlock, toBlock, err)
		}

		if err := b.projectPage(ctx, kind, cursor, logs); err != nil {
			return cursor, err
		}

		if toBlock >= target {
			cursor = pageEndCursor(cursor, logs, toBlock)
			break
		}

		next := pageEndCursor(cursor, logs, toBlock)
		if next.FromBlock == cursor.FromBlock {
			// Single-block page: the block is fully projected, step past it
			next = NewCursor(toBlock + 1)
		}
		cursor = next
	}

	logger.InfoCtx(ctx, "Backfill finished",
		zap.String("kind", string(kind)),
		zap.Uint64("cursor_block", cursor.FromBlock))

	return cursor, nil
}

// projectPage maps one page of logs concurrently. Malformed logs are isolated
// and skipped so one undecodable log cannot stall the walk; infrastructure
// errors propagate and abort it.
func (b *Backfiller) projectPage(ctx context.Context, kind domain.EventKind, cursor Cursor, logs []types.Log) error {
	group := b.pool.NewGroup()

	skipped := 0
	for _, l := range logs {
		if l.BlockNumber == cursor.FromBlock && cursor.Seen(l.Index) {
			skipped++
			continue
		}

		group.SubmitErr(func() error {
			err := b.projector.Project(ctx, kind, l)
			if err == nil {
				return nil
			}
			if errors.Is(err, domain.ErrMalformedLog) {
				logger.WarnCtx(ctx, "Skipping undecodable log",
					zap.String("kind", string(kind)),
					zap.Uint64("block_number", l.BlockNumber),
					zap.Uint("log_index", l.Index),
					zap.Error(err))
				return nil
			}
			return err
		})
	}

	if skipped > 0 {
		logger.DebugCtx(ctx, "Skipped boundary duplicates",
			zap.String("kind", string(kind)),
			zap.Uint64("block_number", cursor.FromBlock),
			zap.Int("count", skipped))
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("failed to project page: %w", err)
	}

	return nil
}

// pageEndCursor builds the resume cursor after a page: positioned at the last
// queried block, with that block's projected log indices as the boundary guard
func pageEndCursor(cursor Cursor, logs []types.Log, toBlock uint64) Cursor {
	next := NewCursor(toBlock)
	for _, l := range logs {
		if l.BlockNumber == toBlock {
			next.SeenLogIndices[l.Index] = struct{}{}
		}
	}
	if toBlock == cursor.FromBlock {
		for idx := range cursor.SeenLogIndices {
			next.SeenLogIndices[idx] = struct{}{}
		}
	}
	return next
}
