package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/block"
	"github.com/collectible-market/chain-sync/internal/chain"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
	"github.com/collectible-market/chain-sync/internal/store"
)

const liveLogBuffer = 256

// EngineConfig tunes the sync engine
type EngineConfig struct {
	// StartBlock is the lowest block ever walked, typically the contract
	// deployment block
	StartBlock uint64

	// Confirmations is how many blocks below head an event must sit before
	// it is applied
	Confirmations uint64

	// PageBlocks is the block span of one backfill query
	PageBlocks uint64

	// PoolSize bounds concurrent projections during backfill
	PoolSize int

	// PoolQueueSize bounds queued projections during backfill
	PoolQueueSize int
}

// Engine runs one sync loop per event kind: subscribe to live logs, seed the
// unconfirmed window between the backfill target and the current head from a
// ranged query, then walk history and drain the live subscription
// concurrently. The idempotent store absorbs any overlap between the phases.
type Engine struct {
	source    chain.LogSource
	store     store.Store
	projector Projector
	head      block.HeadProvider
	clock     adapter.Clock
	config    EngineConfig
}

func NewEngine(
	source chain.LogSource,
	s store.Store,
	projector Projector,
	head block.HeadProvider,
	clock adapter.Clock,
	config EngineConfig,
) *Engine {
	if config.PageBlocks == 0 {
		config.PageBlocks = 1000
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	if config.PoolQueueSize <= 0 {
		config.PoolQueueSize = 100
	}
	return &Engine{
		source:    source,
		store:     s,
		projector: projector,
		head:      head,
		clock:     clock,
		config:    config,
	}
}

// Run blocks until the context is canceled or any kind's loop fails. The
// first failure cancels the remaining loops.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	projectionPool := pond.NewPool(e.config.PoolSize,
		pond.WithQueueSize(e.config.PoolQueueSize),
		pond.WithContext(ctx))
	defer projectionPool.StopAndWait()

	backfiller := NewBackfiller(e.source, e.projector, projectionPool, e.config.PageBlocks)
	subscriber := NewSubscriber(e.projector, e.head, e.clock, e.config.Confirmations)

	// The kind loops live in their own pool so they cannot starve the
	// projection workers they feed
	loopPool := pond.NewPool(len(domain.EventKinds), pond.WithContext(ctx))
	defer loopPool.StopAndWait()

	group := loopPool.NewGroup()
	for _, kind := range domain.EventKinds {
		group.SubmitErr(func() error {
			err := e.runKind(ctx, kind, backfiller, subscriber)
			if err != nil {
				// One failed kind takes the whole engine down
				cancel()
			}
			return err
		})
	}

	return group.Wait()
}

func (e *Engine) runKind(ctx context.Context, kind domain.EventKind, backfiller *Backfiller, subscriber *Subscriber) error {
	// Subscribe before resolving the head so every block past it is either
	// inside the queried window or delivered on ch
	ch := make(chan types.Log, liveLogBuffer)
	sub, err := e.source.SubscribeLogs(ctx, kind, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s logs: %w", kind, err)
	}

	cursor, err := e.initialCursor(ctx, kind)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	head, err := e.head.GetHeadBlock(ctx)
	if err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("resolve head block: %w", err)
	}
	target := confirmedBlock(head, e.config.Confirmations)

	// Logs in (target, head] are too shallow to backfill and were mined
	// before the subscription went live, so neither path would see them.
	// Fetch them once and hand them to the subscriber's pending buffer.
	backlog, err := e.unconfirmedBacklog(ctx, kind, cursor, target, head)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	logger.InfoCtx(ctx, "Starting backfill",
		zap.String("kind", string(kind)),
		zap.Uint64("from_block", cursor.FromBlock),
		zap.Uint64("target_block", target),
		zap.Int("backlog_logs", len(backlog)))

	// The subscriber starts alongside the walk so a long backfill cannot
	// let the subscription channel overflow
	kindCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	backfillErr := make(chan error, 1)
	go func() {
		_, err := backfiller.Run(kindCtx, kind, cursor, target)
		if err != nil {
			cancel()
		} else {
			logger.InfoCtx(ctx, "Backfill complete",
				zap.String("kind", string(kind)),
				zap.Uint64("target_block", target))
		}
		backfillErr <- err
	}()

	subErr := subscriber.Run(kindCtx, kind, sub, ch, backlog)
	cancel()
	if err := <-backfillErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backfill %s: %w", kind, err)
	}
	return subErr
}

// unconfirmedBacklog queries the logs sitting between the backfill target and
// the current head at startup. An empty window returns nil.
func (e *Engine) unconfirmedBacklog(ctx context.Context, kind domain.EventKind, cursor Cursor, target, head uint64) ([]types.Log, error) {
	from := max(target+1, cursor.FromBlock)
	if from > head {
		return nil, nil
	}
	logs, err := e.source.FilterLogs(ctx, kind, from, head)
	if err != nil {
		return nil, fmt.Errorf("query unconfirmed window %d-%d for %s: %w", from, head, kind, err)
	}
	return logs, nil
}

// initialCursor resumes from the block after the newest stored event of the
// kind, floored at the configured start block
func (e *Engine) initialCursor(ctx context.Context, kind domain.EventKind) (Cursor, error) {
	latest, err := e.store.LatestEventBlock(ctx, kind)
	if err != nil {
		return Cursor{}, fmt.Errorf("load cursor for %s: %w", kind, err)
	}
	from := e.config.StartBlock
	if latest >= from {
		// Re-walk the newest stored block; duplicate rows are rejected by
		// the store's unique keys
		from = latest
	}
	return NewCursor(from), nil
}

func confirmedBlock(head, confirmations uint64) uint64 {
	if head < confirmations {
		return 0
	}
	return head - confirmations
}
