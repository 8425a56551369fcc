package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/collectible-market/chain-sync/internal/adapter"
	"github.com/collectible-market/chain-sync/internal/block"
	"github.com/collectible-market/chain-sync/internal/chain"
	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/logger"
	"github.com/collectible-market/chain-sync/internal/messaging"
	"github.com/collectible-market/chain-sync/internal/store"
)

// Projector maps raw chain logs to domain events and persists them. Both the
// backfill walker and the realtime subscriber feed the same projection path,
// so delivery overlap between the two resolves in the store.
//
//go:generate mockgen -source=projector.go -destination=../mocks/projector.go -package=mocks -mock_names=Projector=MockProjector
type Projector interface {
	// Project persists one raw log of the given kind. Errors wrapping
	// domain.ErrMalformedLog mark the log itself as undecodable; everything
	// else is an infrastructure failure.
	Project(ctx context.Context, kind domain.EventKind, log types.Log) error
}

type projector struct {
	store      store.Store
	timestamps block.TimestampProvider
	publisher  messaging.Publisher
	json       adapter.JSON
}

// NewProjector creates a Projector over the given store, timestamp provider
// and broker publisher
func NewProjector(s store.Store, timestamps block.TimestampProvider, publisher messaging.Publisher, jsonAdapter adapter.JSON) Projector {
	return &projector{
		store:      s,
		timestamps: timestamps,
		publisher:  publisher,
		json:       jsonAdapter,
	}
}

// Project persists one raw log of the given kind
func (p *projector) Project(ctx context.Context, kind domain.EventKind, log types.Log) error {
	timestamp, err := p.timestamps.GetBlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		return fmt.Errorf("failed to resolve timestamp for log %d-%d: %w", log.BlockNumber, log.Index, err)
	}

	raw, err := p.json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal raw log %d-%d: %w", log.BlockNumber, log.Index, err)
	}

	switch kind {
	case domain.EventKindCreate:
		return p.projectCreate(ctx, log, raw, timestamp)
	case domain.EventKindMint:
		return p.projectMint(ctx, log, raw, timestamp)
	case domain.EventKindTransferSingle, domain.EventKindTransferBatch:
		return p.projectTransfers(ctx, kind, log, raw, timestamp)
	default:
		return fmt.Errorf("unknown event kind: %s", kind)
	}
}

func (p *projector) projectCreate(ctx context.Context, log types.Log, raw []byte, timestamp time.Time) error {
	decoded, err := chain.DecodeCreateLog(log)
	if err != nil {
		return err
	}

	creatorID, err := p.store.EnsureUser(ctx, decoded.Creator.Hex())
	if err != nil {
		return fmt.Errorf("failed to resolve creator: %w", err)
	}

	event := domain.CreateEvent{
		CreatorID:     creatorID,
		CollectibleID: domain.CollectibleIDFromTokenID(decoded.TokenID),
		BlockNumber:   log.BlockNumber,
		LogIndex:      log.Index,
		TxHash:        log.TxHash.Hex(),
		CreatedAt:     timestamp,
		Raw:           raw,
	}

	inserted, err := p.store.InsertCreateEvents(ctx, []domain.CreateEvent{event})
	if err != nil {
		return fmt.Errorf("failed to persist create event: %w", err)
	}

	if inserted > 0 {
		p.publish(ctx, &domain.EventEnvelope{Kind: domain.EventKindCreate, Create: &event})
	}

	return nil
}

func (p *projector) projectMint(ctx context.Context, log types.Log, raw []byte, timestamp time.Time) error {
	decoded, err := chain.DecodeMintLog(log)
	if err != nil {
		return err
	}

	toID, err := p.store.EnsureUser(ctx, decoded.To.Hex())
	if err != nil {
		return fmt.Errorf("failed to resolve mint recipient: %w", err)
	}

	event := domain.MintEvent{
		ToID:          toID,
		CollectibleID: domain.CollectibleIDFromTokenID(decoded.TokenID),
		Amount:        decoded.Amount,
		Income:        decoded.Income,
		OwnerFee:      decoded.OwnerFee,
		Profit:        decoded.Profit,
		BlockNumber:   log.BlockNumber,
		LogIndex:      log.Index,
		TxHash:        log.TxHash.Hex(),
		CreatedAt:     timestamp,
		Raw:           raw,
	}

	inserted, err := p.store.InsertMintEvents(ctx, []domain.MintEvent{event})
	if err != nil {
		return fmt.Errorf("failed to persist mint event: %w", err)
	}

	if inserted > 0 {
		p.publish(ctx, &domain.EventEnvelope{Kind: domain.EventKindMint, Mint: &event})
	}

	return nil
}

func (p *projector) projectTransfers(ctx context.Context, kind domain.EventKind, log types.Log, raw []byte, timestamp time.Time) error {
	var transfers []chain.TransferLog
	var err error
	if kind == domain.EventKindTransferSingle {
		transfers, err = chain.DecodeTransferSingleLog(log)
	} else {
		transfers, err = chain.DecodeTransferBatchLog(log)
	}
	if err != nil {
		return err
	}

	for _, transfer := range transfers {
		fromID, err := p.resolveSide(ctx, transfer.From)
		if err != nil {
			return fmt.Errorf("failed to resolve transfer sender: %w", err)
		}
		toID, err := p.resolveSide(ctx, transfer.To)
		if err != nil {
			return fmt.Errorf("failed to resolve transfer receiver: %w", err)
		}

		event := domain.TransferEvent{
			FromID:        fromID,
			ToID:          toID,
			CollectibleID: domain.CollectibleIDFromTokenID(transfer.TokenID),
			SubIndex:      transfer.SubIndex,
			Value:         transfer.Value,
			BlockNumber:   log.BlockNumber,
			LogIndex:      log.Index,
			TxHash:        log.TxHash.Hex(),
			CreatedAt:     timestamp,
			Raw:           raw,
		}

		applied, err := p.store.ApplyTransferEvent(ctx, kind, event)
		if err != nil {
			return fmt.Errorf("failed to apply transfer event: %w", err)
		}

		if applied {
			p.publish(ctx, &domain.EventEnvelope{Kind: kind, Transfer: &event})
		}
	}

	return nil
}

// resolveSide maps a transfer-side address to a user ID, nil for the zero
// sentinel. Zero-address sides never get a user row.
func (p *projector) resolveSide(ctx context.Context, address common.Address) (*string, error) {
	if domain.IsZeroAddress(address) {
		return nil, nil
	}
	id, err := p.store.EnsureUser(ctx, address.Hex())
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// publish forwards a persisted event to the broker. Publication is
// best-effort: the store row is the source of truth and a failed publish
// never rolls the event back.
func (p *projector) publish(ctx context.Context, envelope *domain.EventEnvelope) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEvent(ctx, envelope); err != nil {
		logger.WarnCtx(ctx, "Failed to publish event",
			zap.String("kind", string(envelope.Kind)),
			zap.String("key", envelope.Key().String()),
			zap.Error(err))
	}
}
