// Package seed bootstraps a usable account on first startup so a
// fresh install can call the API immediately.
package seed

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/server"
	"gorm.io/gorm"
)

const (
	defaultAccountName  = "Main"
	defaultAccountEmail = "owner@faktur.local"
)

// EnsureDefaultAccount creates the bootstrap account when the
// accounts table is empty. The API key comes from
// FAKTUR_BOOTSTRAP_API_KEY; without it no account is seeded.
func EnsureDefaultAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	apiKey := strings.TrimSpace(os.Getenv("FAKTUR_BOOTSTRAP_API_KEY"))
	if apiKey == "" {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&accountdomain.Account{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		account := accountdomain.Account{
			ID:         node.Generate(),
			Name:       defaultAccountName,
			Email:      defaultAccountEmail,
			Currency:   "USD",
			APIKeyHash: server.HashAPIKey(apiKey),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.Create(&account).Error
	})
}
