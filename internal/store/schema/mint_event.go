package schema

import (
	"time"

	"gorm.io/datatypes"
)

// MintEvent represents the collectible_mint_events table - one row per
// on-chain primary-sale mint. Wei-scale amounts are stored as numeric(78,0)
// strings since they routinely exceed 64-bit range.
type MintEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ToID references the user the editions were minted to
	ToID string `gorm:"column:to_id;not null;type:text;index:idx_mint_events_to"`
	// CollectibleID is the canonical 0x-hex token identifier
	CollectibleID string `gorm:"column:collectible_id;not null;type:text;index:idx_mint_events_collectible"`
	// Amount is the number of editions minted
	Amount string `gorm:"column:amount;not null;type:numeric(78,0)"`
	// Income is the total sale income in wei
	Income string `gorm:"column:income;not null;type:numeric(78,0)"`
	// OwnerFee is the platform fee portion in wei
	OwnerFee string `gorm:"column:owner_fee;not null;type:numeric(78,0)"`
	// Profit is the creator profit portion in wei
	Profit string `gorm:"column:profit;not null;type:numeric(78,0)"`
	// BlockNumber is the block the event was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint;uniqueIndex:idx_mint_events_block_log,priority:1"`
	// LogIndex is the position of the log within the block
	LogIndex uint `gorm:"column:log_index;not null;type:bigint;uniqueIndex:idx_mint_events_block_log,priority:2"`
	// TxHash is the transaction hash that emitted the event
	TxHash string `gorm:"column:tx_hash;not null;type:text"`
	// Timestamp is the blockchain timestamp of the containing block
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Raw contains the complete raw log as JSON for debugging and analysis
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// CreatedAt is the timestamp when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	To User `gorm:"foreignKey:ToID"`
}

// TableName specifies the table name for the MintEvent model
func (MintEvent) TableName() string {
	return "collectible_mint_events"
}
