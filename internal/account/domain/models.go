// Package domain contains persistence models for owner accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is the owning tenant of invoices and clients. Payout status
// is persisted state updated by processor callbacks and read per
// request; it is never cached at process scope.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Email        string       `gorm:"type:text;not null" json:"email"`
	Currency     string       `gorm:"type:text;not null;default:'USD'" json:"currency"`
	BusinessName *string      `gorm:"type:text" json:"business_name,omitempty"`
	Address      *string      `gorm:"type:text" json:"address,omitempty"`

	PayoutsEnabled bool    `gorm:"not null;default:false" json:"payouts_enabled"`
	PayoutProvider *string `gorm:"type:text" json:"payout_provider,omitempty"`

	// sha256 hex of the account's API key; the key itself is never stored.
	APIKeyHash string `gorm:"type:text;not null;uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
