package store

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestRaw(txHash string, blockNum uint64) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"tx_hash":      txHash,
		"block_number": blockNum,
	})
	return raw
}

func buildTestCreateEvent(creatorID, collectibleID string, blockNum uint64, logIndex uint) domain.CreateEvent {
	txHash := "0xcreate"
	return domain.CreateEvent{
		CreatorID:     creatorID,
		CollectibleID: collectibleID,
		BlockNumber:   blockNum,
		LogIndex:      logIndex,
		TxHash:        txHash,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Raw:           buildTestRaw(txHash, blockNum),
	}
}

func buildTestMintEvent(toID, collectibleID string, amount *big.Int, blockNum uint64, logIndex uint) domain.MintEvent {
	txHash := "0xmint"
	return domain.MintEvent{
		ToID:          toID,
		CollectibleID: collectibleID,
		Amount:        amount,
		Income:        big.NewInt(1000),
		OwnerFee:      big.NewInt(100),
		Profit:        big.NewInt(900),
		BlockNumber:   blockNum,
		LogIndex:      logIndex,
		TxHash:        txHash,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Raw:           buildTestRaw(txHash, blockNum),
	}
}

func buildTestTransferEvent(fromID, toID *string, collectibleID string, value int64, blockNum uint64, logIndex, subIndex uint) domain.TransferEvent {
	txHash := "0xtransfer"
	return domain.TransferEvent{
		FromID:        fromID,
		ToID:          toID,
		CollectibleID: collectibleID,
		SubIndex:      subIndex,
		Value:         big.NewInt(value),
		BlockNumber:   blockNum,
		LogIndex:      logIndex,
		TxHash:        txHash,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Raw:           buildTestRaw(txHash, blockNum),
	}
}

// =============================================================================
// Test: EnsureUser
// =============================================================================

func testEnsureUser(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("creates user on first sight", func(t *testing.T) {
		id, err := store.EnsureUser(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		user, err := store.GetUserByAddress(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, id, user.ID)
	})

	t.Run("repeated calls return the same ID", func(t *testing.T) {
		id1, err := store.EnsureUser(ctx, "0x2222222222222222222222222222222222222222")
		require.NoError(t, err)

		id2, err := store.EnsureUser(ctx, "0x2222222222222222222222222222222222222222")
		require.NoError(t, err)

		assert.Equal(t, id1, id2)
	})

	t.Run("address casing normalizes to one row", func(t *testing.T) {
		id1, err := store.EnsureUser(ctx, "0xABCDEF0123456789abcdef0123456789ABCDEF01")
		require.NoError(t, err)

		id2, err := store.EnsureUser(ctx, "0xabcdef0123456789abcdef0123456789abcdef01")
		require.NoError(t, err)

		assert.Equal(t, id1, id2)
	})

	t.Run("unknown address lookup returns nil", func(t *testing.T) {
		user, err := store.GetUserByAddress(ctx, "0x9999999999999999999999999999999999999999")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

// =============================================================================
// Test: InsertCreateEvents
// =============================================================================

func testInsertCreateEvents(t *testing.T, store Store) {
	ctx := context.Background()

	creatorID, err := store.EnsureUser(ctx, "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	events := []domain.CreateEvent{
		buildTestCreateEvent(creatorID, "0x1", 100, 0),
		buildTestCreateEvent(creatorID, "0x2", 101, 3),
	}

	t.Run("inserts fresh events", func(t *testing.T) {
		inserted, err := store.InsertCreateEvents(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, int64(2), inserted)
	})

	t.Run("full replay inserts nothing", func(t *testing.T) {
		inserted, err := store.InsertCreateEvents(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, int64(0), inserted)
	})

	t.Run("partial overlap inserts only the new key", func(t *testing.T) {
		mixed := []domain.CreateEvent{
			events[1],
			buildTestCreateEvent(creatorID, "0x3", 102, 1),
		}

		inserted, err := store.InsertCreateEvents(ctx, mixed)
		require.NoError(t, err)
		assert.Equal(t, int64(1), inserted)
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		inserted, err := store.InsertCreateEvents(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), inserted)
	})

	t.Run("cursor tracks the highest block", func(t *testing.T) {
		cursor, err := store.LatestEventBlock(ctx, domain.EventKindCreate)
		require.NoError(t, err)
		assert.Equal(t, uint64(102), cursor)
	})
}

// =============================================================================
// Test: InsertMintEvents
// =============================================================================

func testInsertMintEvents(t *testing.T, store Store) {
	ctx := context.Background()

	toID, err := store.EnsureUser(ctx, "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)

	// Wei-scale amount beyond 64-bit range
	bigAmount, ok := new(big.Int).SetString("1000000000000000000000000000000", 10)
	require.True(t, ok)

	events := []domain.MintEvent{
		buildTestMintEvent(toID, "0x1", big.NewInt(5), 200, 0),
		buildTestMintEvent(toID, "0x1", bigAmount, 201, 2),
	}

	t.Run("inserts fresh events", func(t *testing.T) {
		inserted, err := store.InsertMintEvents(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, int64(2), inserted)
	})

	t.Run("preserves amounts beyond 64-bit range", func(t *testing.T) {
		pg, ok := store.(*pgStore)
		require.True(t, ok)

		var row schema.MintEvent
		err := pg.db.Where("block_number = ? AND log_index = ?", 201, 2).First(&row).Error
		require.NoError(t, err)
		assert.Equal(t, bigAmount.String(), row.Amount)
	})

	t.Run("full replay inserts nothing", func(t *testing.T) {
		inserted, err := store.InsertMintEvents(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, int64(0), inserted)
	})

	t.Run("cursor tracks the highest block", func(t *testing.T) {
		cursor, err := store.LatestEventBlock(ctx, domain.EventKindMint)
		require.NoError(t, err)
		assert.Equal(t, uint64(201), cursor)
	})
}

// =============================================================================
// Test: ApplyTransferEvent
// =============================================================================

func testApplyTransferEvent(t *testing.T, store Store) {
	ctx := context.Background()
	collectible := "0xab"

	userA, err := store.EnsureUser(ctx, "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	userB, err := store.EnsureUser(ctx, "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)

	t.Run("mint-side transfer credits the receiver only", func(t *testing.T) {
		event := buildTestTransferEvent(nil, &userA, collectible, 100, 300, 0, 0)

		applied, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, event)
		require.NoError(t, err)
		assert.True(t, applied)

		balance, err := store.GetBalance(ctx, userA, collectible)
		require.NoError(t, err)
		assert.Equal(t, "100", balance)
	})

	t.Run("transfer moves quantity between holders", func(t *testing.T) {
		event := buildTestTransferEvent(&userA, &userB, collectible, 2, 301, 0, 0)

		applied, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, event)
		require.NoError(t, err)
		assert.True(t, applied)

		balanceA, err := store.GetBalance(ctx, userA, collectible)
		require.NoError(t, err)
		assert.Equal(t, "98", balanceA)

		balanceB, err := store.GetBalance(ctx, userB, collectible)
		require.NoError(t, err)
		assert.Equal(t, "2", balanceB)
	})

	t.Run("zero-value transfer applies without moving quantity", func(t *testing.T) {
		event := buildTestTransferEvent(&userB, &userA, collectible, 0, 302, 0, 0)

		applied, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, event)
		require.NoError(t, err)
		assert.True(t, applied)

		balanceA, err := store.GetBalance(ctx, userA, collectible)
		require.NoError(t, err)
		assert.Equal(t, "98", balanceA)
	})

	t.Run("double delivery leaves balances untouched", func(t *testing.T) {
		// Redeliver every event from the scenario above
		replays := []domain.TransferEvent{
			buildTestTransferEvent(nil, &userA, collectible, 100, 300, 0, 0),
			buildTestTransferEvent(&userA, &userB, collectible, 2, 301, 0, 0),
			buildTestTransferEvent(&userB, &userA, collectible, 0, 302, 0, 0),
		}

		for _, event := range replays {
			applied, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, event)
			require.NoError(t, err)
			assert.False(t, applied)
		}

		balanceA, err := store.GetBalance(ctx, userA, collectible)
		require.NoError(t, err)
		assert.Equal(t, "98", balanceA)

		balanceB, err := store.GetBalance(ctx, userB, collectible)
		require.NoError(t, err)
		assert.Equal(t, "2", balanceB)
	})

	t.Run("burn-side transfer debits the sender only", func(t *testing.T) {
		event := buildTestTransferEvent(&userA, nil, collectible, 8, 303, 0, 0)

		applied, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, event)
		require.NoError(t, err)
		assert.True(t, applied)

		balanceA, err := store.GetBalance(ctx, userA, collectible)
		require.NoError(t, err)
		assert.Equal(t, "90", balanceA)
	})

	t.Run("batch sub-indices are distinct keys within one log", func(t *testing.T) {
		pair0 := buildTestTransferEvent(&userA, &userB, collectible, 1, 304, 5, 0)
		pair1 := buildTestTransferEvent(&userA, &userB, collectible, 1, 304, 5, 1)

		applied0, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferBatch, pair0)
		require.NoError(t, err)
		assert.True(t, applied0)

		applied1, err := store.ApplyTransferEvent(ctx, domain.EventKindTransferBatch, pair1)
		require.NoError(t, err)
		assert.True(t, applied1)

		balanceB, err := store.GetBalance(ctx, userB, collectible)
		require.NoError(t, err)
		assert.Equal(t, "4", balanceB)
	})

	t.Run("unknown holder balance reads as zero", func(t *testing.T) {
		balance, err := store.GetBalance(ctx, userB, "0xfeed")
		require.NoError(t, err)
		assert.Equal(t, "0", balance)
	})
}

// =============================================================================
// Test: LatestEventBlock
// =============================================================================

func testLatestEventBlock(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("empty tables yield zero cursors", func(t *testing.T) {
		for _, kind := range domain.EventKinds {
			cursor, err := store.LatestEventBlock(ctx, kind)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), cursor, "kind %s", kind)
		}
	})

	t.Run("transfer kinds keep independent cursors", func(t *testing.T) {
		userA, err := store.EnsureUser(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)

		single := buildTestTransferEvent(nil, &userA, "0x1", 1, 10, 0, 0)
		_, err = store.ApplyTransferEvent(ctx, domain.EventKindTransferSingle, single)
		require.NoError(t, err)

		batch := buildTestTransferEvent(nil, &userA, "0x1", 1, 20, 0, 0)
		_, err = store.ApplyTransferEvent(ctx, domain.EventKindTransferBatch, batch)
		require.NoError(t, err)

		singleCursor, err := store.LatestEventBlock(ctx, domain.EventKindTransferSingle)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), singleCursor)

		batchCursor, err := store.LatestEventBlock(ctx, domain.EventKindTransferBatch)
		require.NoError(t, err)
		assert.Equal(t, uint64(20), batchCursor)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		_, err := store.LatestEventBlock(ctx, domain.EventKind("bogus"))
		assert.Error(t, err)
	})
}

// RunStoreTests runs the store test suite against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"EnsureUser", testEnsureUser},
		{"InsertCreateEvents", testInsertCreateEvents},
		{"InsertMintEvents", testInsertMintEvents},
		{"ApplyTransferEvent", testApplyTransferEvent},
		{"LatestEventBlock", testLatestEventBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
