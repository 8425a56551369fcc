package schema

import (
	"time"

	"gorm.io/datatypes"
)

// TransferEvent represents the collectible_transfer_events table. Both
// TransferSingle logs and the per-pair fan-out of TransferBatch logs land
// here; sub_index disambiguates pairs sharing one log. A NULL from_id means
// the editions were minted out of the zero address, a NULL to_id means burn.
type TransferEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// FromID references the sending user (nil for mint-side transfers)
	FromID *string `gorm:"column:from_id;type:text;index:idx_transfer_events_from"`
	// ToID references the receiving user (nil for burns)
	ToID *string `gorm:"column:to_id;type:text;index:idx_transfer_events_to"`
	// CollectibleID is the canonical 0x-hex token identifier
	CollectibleID string `gorm:"column:collectible_id;not null;type:text;index:idx_transfer_events_collectible"`
	// Kind records which log shape produced the row (transfer_single or
	// transfer_batch) so each sync loop can derive its own block cursor
	Kind string `gorm:"column:kind;not null;type:text;index:idx_transfer_events_kind"`
	// Quantity is the number of editions moved
	Quantity string `gorm:"column:quantity;not null;type:numeric(78,0)"`
	// BlockNumber is the block the event was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint;uniqueIndex:idx_transfer_events_block_log_sub,priority:1"`
	// LogIndex is the position of the log within the block
	LogIndex uint `gorm:"column:log_index;not null;type:bigint;uniqueIndex:idx_transfer_events_block_log_sub,priority:2"`
	// SubIndex is the pair position within a TransferBatch log (0 for TransferSingle)
	SubIndex uint `gorm:"column:sub_index;not null;type:bigint;uniqueIndex:idx_transfer_events_block_log_sub,priority:3"`
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
	From *User `gorm:"foreignKey:FromID"`
	To   *User `gorm:"foreignKey:ToID"`
}

// TableName specifies the table name for the TransferEvent model
func (TransferEvent) TableName() string {
	return "collectible_transfer_events"
}
