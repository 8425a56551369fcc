package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/collectible-market/chain-sync/internal/domain"
	"github.com/collectible-market/chain-sync/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates or updates the sync tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.User{},
		&schema.CreateEvent{},
		&schema.MintEvent{},
		&schema.TransferEvent{},
		&schema.Balance{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	// Set defaults if not provided
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// calculateSafeBatchSize computes the batch size for bulk inserts to stay
// under PostgreSQL's extended-protocol limit of 65535 parameters per query.
// Each record consumes one parameter per inserted field, and the ON CONFLICT
// clause plus GORM bookkeeping add batch-level overhead, covered by a total
// headroom reservation.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000 // Total parameter headroom for batch-level overhead

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// EnsureUser returns the user ID for an address, creating the row on first
// sight. Concurrent callers racing on the same fresh address converge on one
// row through the unique index on evm_address.
func (s *pgStore) EnsureUser(ctx context.Context, address string) (string, error) {
	normalized := domain.NormalizeAddress(address)

	user := schema.User{
		ID:         ulid.Make().String(),
		EVMAddress: normalized,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "evm_address"}},
		DoNothing: true,
	}).Create(&user)
	if result.Error != nil {
		return "", fmt.Errorf("failed to create user: %w", result.Error)
	}

	// Inserted: the generated ID stuck
	if result.RowsAffected > 0 {
		return user.ID, nil
	}

	// Conflict: another writer owns the row, fetch its ID
	var existing schema.User
	err := s.db.WithContext(ctx).Where("evm_address = ?", normalized).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user %s absent after insert conflict", domain.ErrUserIntegrity, normalized)
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	return existing.ID, nil
}

// GetUserByAddress retrieves a user by wallet address
func (s *pgStore) GetUserByAddress(ctx context.Context, address string) (*schema.User, error) {
	var user schema.User
	err := s.db.WithContext(ctx).Where("evm_address = ?", domain.NormalizeAddress(address)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// InsertCreateEvents bulk-inserts create events, skipping already-seen keys
func (s *pgStore) InsertCreateEvents(ctx context.Context, events []domain.CreateEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]schema.CreateEvent, len(events))
	for i, event := range events {
		rows[i] = schema.CreateEvent{
			CreatorID:     event.CreatorID,
			CollectibleID: event.CollectibleID,
			BlockNumber:   event.BlockNumber,
			LogIndex:      event.LogIndex,
			TxHash:        event.TxHash,
			Timestamp:     event.CreatedAt,
			Raw:           datatypes.JSON(event.Raw),
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_number"}, {Name: "log_index"}},
		DoNothing: true,
	}).CreateInBatches(rows, calculateSafeBatchSize(len(rows), 9))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert create events: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// InsertMintEvents bulk-inserts mint events, skipping already-seen keys
func (s *pgStore) InsertMintEvents(ctx context.Context, events []domain.MintEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]schema.MintEvent, len(events))
	for i, event := range events {
		rows[i] = schema.MintEvent{
			ToID:          event.ToID,
			CollectibleID: event.CollectibleID,
			Amount:        event.Amount.String(),
			Income:        event.Income.String(),
			OwnerFee:      event.OwnerFee.String(),
			Profit:        event.Profit.String(),
			BlockNumber:   event.BlockNumber,
			LogIndex:      event.LogIndex,
			TxHash:        event.TxHash,
			Timestamp:     event.CreatedAt,
			Raw:           datatypes.JSON(event.Raw),
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_number"}, {Name: "log_index"}},
		DoNothing: true,
	}).CreateInBatches(rows, calculateSafeBatchSize(len(rows), 13))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert mint events: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// ApplyTransferEvent records a transfer and adjusts both balances in a single
// transaction. The event row doubles as the applied-checkpoint: balances move
// only when the insert actually lands, so re-delivered events are no-ops.
func (s *pgStore) ApplyTransferEvent(ctx context.Context, kind domain.EventKind, event domain.TransferEvent) (bool, error) {
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := schema.TransferEvent{
			FromID:        event.FromID,
			ToID:          event.ToID,
			CollectibleID: event.CollectibleID,
			Kind:          string(kind),
			Quantity:      event.Value.String(),
			BlockNumber:   event.BlockNumber,
			LogIndex:      event.LogIndex,
			SubIndex:      event.SubIndex,
			TxHash:        event.TxHash,
			Timestamp:     event.CreatedAt,
			Raw:           datatypes.JSON(event.Raw),
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "block_number"}, {Name: "log_index"}, {Name: "sub_index"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to insert transfer event: %w", result.Error)
		}

		// ID == 0 means the key already existed: the event was applied before
		if row.ID == 0 {
			return nil
		}

		// Zero-address sides carry no user row and no balance
		if event.FromID != nil {
			if err := s.applyBalanceDelta(tx, *event.FromID, event.CollectibleID, row.Quantity, true); err != nil {
				return fmt.Errorf("failed to apply sender balance: %w", err)
			}
		}
		if event.ToID != nil {
			if err := s.applyBalanceDelta(tx, *event.ToID, event.CollectibleID, row.Quantity, false); err != nil {
				return fmt.Errorf("failed to apply receiver balance: %w", err)
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// applyBalanceDelta adjusts one balance row inside a transfer transaction,
// creating the row at the delta value when it doesn't exist yet. The row is
// locked for update so concurrent transfers touching the same holder serialize.
func (s *pgStore) applyBalanceDelta(tx *gorm.DB, userID, collectibleID, quantity string, subtract bool) error {
	var balance schema.Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND collectible_id = ?", userID, collectibleID).
		First(&balance).Error

	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock balance: %w", err)
		}

		initial := quantity
		if subtract {
			initial = "-" + quantity
		}
		balance = schema.Balance{
			UserID:        userID,
			CollectibleID: collectibleID,
			Quantity:      initial,
		}
		if err := tx.Create(&balance).Error; err != nil {
			return fmt.Errorf("failed to create balance: %w", err)
		}
		return nil
	}

	expr := gorm.Expr("quantity + ?", quantity)
	if subtract {
		expr = gorm.Expr("quantity - ?", quantity)
	}
	if err := tx.Model(&balance).Update("quantity", expr).Error; err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return nil
}

// GetBalance returns the edition count a user holds for a collectible
func (s *pgStore) GetBalance(ctx context.Context, userID, collectibleID string) (string, error) {
	var balance schema.Balance
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND collectible_id = ?", userID, collectibleID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "0", nil
		}
		return "", fmt.Errorf("failed to get balance: %w", err)
	}
	return balance.Quantity, nil
}

// LatestEventBlock returns the highest persisted block number for a kind.
// This is the sync cursor: backfill resumes from here after a restart.
func (s *pgStore) LatestEventBlock(ctx context.Context, kind domain.EventKind) (uint64, error) {
	query := s.db.WithContext(ctx)

	switch kind {
	case domain.EventKindCreate:
		query = query.Model(&schema.CreateEvent{})
	case domain.EventKindMint:
		query = query.Model(&schema.MintEvent{})
	case domain.EventKindTransferSingle, domain.EventKindTransferBatch:
		query = query.Model(&schema.TransferEvent{}).Where("kind = ?", string(kind))
	default:
		return 0, fmt.Errorf("unknown event kind: %s", kind)
	}

	var result struct {
		MaxBlock uint64 `gorm:"column:max_block"`
	}
	err := query.Select("COALESCE(MAX(block_number), 0) AS max_block").Scan(&result).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get latest event block: %w", err)
	}

	return result.MaxBlock, nil
}
