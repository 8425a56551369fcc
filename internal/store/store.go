package store

import (
	"context"

	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/store/schema"
)

// Store defines the interface for database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// EnsureUser returns the user ID for an address, creating the row on first sight
	EnsureUser(ctx context.Context, address string) (string, error)
	// GetUserByAddress retrieves a user by wallet address, nil if absent
	GetUserByAddress(ctx context.Context, address string) (*schema.User, error)
	// InsertCreateEvents bulk-inserts create events, skipping already-seen keys.
	// Returns the number of rows actually inserted.
	InsertCreateEvents(ctx context.Context, events []domain.CreateEvent) (int64, error)
	// InsertMintEvents bulk-inserts mint events, skipping already-seen keys.
	// Returns the number of rows actually inserted.
	InsertMintEvents(ctx context.Context, events []domain.MintEvent) (int64, error)
	// ApplyTransferEvent records a transfer and adjusts both balances in one
	// transaction. Returns false without touching balances when the event key
	// was already applied.
	ApplyTransferEvent(ctx context.Context, kind domain.EventKind, event domain.TransferEvent) (bool, error)
	// GetBalance returns the edition count a user holds for a collectible ("0" if no row)
	GetBalance(ctx context.Context, userID, collectibleID string) (string, error)
	// LatestEventBlock returns the highest persisted block number for a kind,
	// 0 when the kind has no rows yet
	LatestEventBlock(ctx context.Context, kind domain.EventKind) (uint64, error)
}
