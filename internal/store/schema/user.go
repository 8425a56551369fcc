package schema

import (
	"time"
)

// User represents the users table. Rows are created lazily the first time an
// address appears in a synced event; EVMAddress is the natural key.
type User struct {
	// ID is an opaque ULID assigned on first sight
	ID string `gorm:"column:id;primaryKey;type:text"`
	// EVMAddress is the checksummed wallet address
	EVMAddress string `gorm:"column:evm_address;not null;type:text;uniqueIndex:idx_users_evm_address"`
	// CreatedAt is the timestamp when this user was first referenced
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this user was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}
