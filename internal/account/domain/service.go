package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpdateAccountRequest struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Currency     *string `json:"currency,omitempty"`
	BusinessName *string `json:"business_name,omitempty"`
	Address      *string `json:"address,omitempty"`
}

type Service interface {
	Get(ctx context.Context) (Account, error)
	Update(ctx context.Context, req UpdateAccountRequest) (Account, error)
	// FindByAPIKeyHash resolves the account owning a presented API key.
	FindByAPIKeyHash(ctx context.Context, hash string) (Account, error)
	// SetPayoutStatus records a processor-side account status change.
	// It is a plain attribute update and never touches invoice state.
	SetPayoutStatus(ctx context.Context, accountID snowflake.ID, provider string, enabled bool) error
}

var (
	ErrNotFound       = errors.New("account_not_found")
	ErrInvalidAccount = errors.New("invalid_account")
)
