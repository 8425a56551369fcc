package schema

import (
	"time"

	"gorm.io/datatypes"
)

// CreateEvent represents the collectible_create_events table - one row per
// on-chain collectible declaration. The (block_number, log_index) pair is the
// chain-assigned identity, so re-delivered logs collapse into the same row.
type CreateEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// CreatorID references the user who declared the collectible
	CreatorID string `gorm:"column:creator_id;not null;type:text;index:idx_create_events_creator"`
	// CollectibleID is the canonical 0x-hex token identifier
	CollectibleID string `gorm:"column:collectible_id;not null;type:text;index:idx_create_events_collectible"`
	// BlockNumber is the block the event was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint;uniqueIndex:idx_create_events_block_log,priority:1"`
	// LogIndex is the position of the log within the block
	LogIndex uint `gorm:"column:log_index;not null;type:bigint;uniqueIndex:idx_create_events_block_log,priority:2"`
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
	Creator User `gorm:"foreignKey:CreatorID"`
}

// TableName specifies the table name for the CreateEvent model
func (CreateEvent) TableName() string {
	return "collectible_create_events"
}
