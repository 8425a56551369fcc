package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/block"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
)

// flushInterval paces confirmation checks for buffered live logs
const flushInterval = 12 * time.Second

// Subscriber drains a live log subscription for one kind. Received logs are
// held in a pending buffer until they sit at least the configured
// confirmation depth below the chain head, then projected in key order.
type Subscriber struct {
	projector     Projector
	head          block.HeadProvider
	clock         adapter.Clock
	confirmations uint64
}

// NewSubscriber creates a Subscriber with the given confirmation depth.
// Depth 0 projects live logs as they arrive.
func NewSubscriber(projector Projector, head block.HeadProvider, clock adapter.Clock, confirmations uint64) *Subscriber {
	return &Subscriber{
		projector:     projector,
		head:          head,
		clock:         clock,
		confirmations: confirmations,
	}
}

// Run consumes the subscription until the context is canceled or the
// subscription fails. backlog seeds the pending buffer with logs already
// mined when the subscription was registered but not yet deep enough to
// backfill; they flush through the same confirmation checks as live logs.
// The caller owns sub and ch; Run unsubscribes on return so a second exit
// path cannot double-drain the channel.
func (s *Subscriber) Run(ctx context.Context, kind domain.EventKind, sub ethereum.Subscription, ch <-chan types.Log, backlog []types.Log) error {
	defer sub.Unsubscribe()

	pending := append([]types.Log(nil), backlog...)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			if err == nil {
				// Unsubscribed: channel closed without a failure
				return nil
			}
			return fmt.Errorf("%w: %s: %s", domain.ErrSubscriptionFailed, kind, err)

		case l := <-ch:
			if l.Removed {
				// Reorged out; the replacement log arrives separately
				logger.WarnCtx(ctx, "Dropping removed log",
					zap.String("kind", string(kind)),
					zap.Uint64("block_number", l.BlockNumber),
					zap.Uint("log_index", l.Index))
				continue
			}
			if s.confirmations == 0 {
				if err := s.project(ctx, kind, l); err != nil {
					return err
				}
				continue
			}
			pending = append(pending, l)

		case <-s.clock.After(flushInterval):
			var err error
			pending, err = s.flush(ctx, kind, pending)
			if err != nil {
				return err
			}
		}
	}
}

// flush projects every pending log that has reached confirmation depth and
// returns the logs still waiting
func (s *Subscriber) flush(ctx context.Context, kind domain.EventKind, pending []types.Log) ([]types.Log, error) {
	if len(pending) == 0 {
		return pending, nil
	}

	head, err := s.head.GetHeadBlock(ctx)
	if err != nil {
		// Head lookup failures leave the buffer intact for the next tick
		logger.WarnCtx(ctx, "Deferring live flush, head unavailable",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return pending, nil
	}
	if head < s.confirmations {
		return pending, nil
	}
	confirmed := head - s.confirmations

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].BlockNumber != pending[j].BlockNumber {
			return pending[i].BlockNumber < pending[j].BlockNumber
		}
		return pending[i].Index < pending[j].Index
	})

	remaining := pending[:0]
	for _, l := range pending {
		if l.BlockNumber > confirmed {
			remaining = append(remaining, l)
			continue
		}
		if err := s.project(ctx, kind, l); err != nil {
			return nil, err
		}
	}

	return remaining, nil
}

// project runs one live log through the shared projection path, isolating
// undecodable logs the same way the backfill walker does
func (s *Subscriber) project(ctx context.Context, kind domain.EventKind, l types.Log) error {
	err := s.projector.Project(ctx, kind, l)
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
}
