// Package domain contains persistence models for invoice recipients.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Client is an invoice recipient belonging to one account.
type Client struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     *string      `gorm:"type:text" json:"email,omitempty"`
	Address   *string      `gorm:"type:text" json:"address,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }
