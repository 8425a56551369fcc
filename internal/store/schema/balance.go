package schema

import (
	"time"
)

// Balance represents the collectible_balances table - the aggregated edition
// count a user holds per collectible. Rows are derived exclusively from
// transfer events applied through the store's idempotent path.
type Balance struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// UserID references the holding user
	UserID string `gorm:"column:user_id;not null;type:text;uniqueIndex:idx_balances_user_collectible,priority:1"`
	// CollectibleID is the canonical 0x-hex token identifier
	CollectibleID string `gorm:"column:collectible_id;not null;type:text;uniqueIndex:idx_balances_user_collectible,priority:2"`
	// Quantity is the number of editions held (stored as string to support up to 78 digits)
	Quantity string `gorm:"column:quantity;not null;type:numeric(78,0)"`
	// CreatedAt is the timestamp when this balance was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this balance was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	User User `gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for the Balance model
func (Balance) TableName() string {
	return "collectible_balances"
}
