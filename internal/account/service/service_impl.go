package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("account.service"),
	}
}

func (s *Service) Get(ctx context.Context) (accountdomain.Account, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return accountdomain.Account{}, accountdomain.ErrInvalidAccount
	}

	var account accountdomain.Account
	err := s.db.WithContext(ctx).
		Where(&accountdomain.Account{ID: accountID}).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return accountdomain.Account{}, accountdomain.ErrNotFound
		}
		return accountdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) Update(ctx context.Context, req accountdomain.UpdateAccountRequest) (accountdomain.Account, error) {
	account, err := s.Get(ctx)
	if err != nil {
		return accountdomain.Account{}, err
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		account.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		account.Email = strings.TrimSpace(*req.Email)
	}
	if req.Currency != nil && strings.TrimSpace(*req.Currency) != "" {
		account.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
	if req.BusinessName != nil {
		account.BusinessName = normalizeOptional(req.BusinessName)
	}
	if req.Address != nil {
		account.Address = normalizeOptional(req.Address)
	}
	account.UpdatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).Save(&account).Error; err != nil {
		return accountdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) FindByAPIKeyHash(ctx context.Context, hash string) (accountdomain.Account, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return accountdomain.Account{}, accountdomain.ErrNotFound
	}

	var account accountdomain.Account
	err := s.db.WithContext(ctx).
		Where(&accountdomain.Account{APIKeyHash: hash}).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return accountdomain.Account{}, accountdomain.ErrNotFound
		}
		return accountdomain.Account{}, err
	}
	return account, nil
}

func (s *Service) SetPayoutStatus(ctx context.Context, accountID snowflake.ID, provider string, enabled bool) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if accountID == 0 || provider == "" {
		return accountdomain.ErrInvalidAccount
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET payouts_enabled = ?, payout_provider = ?, updated_at = ?
		 WHERE id = ?`,
		enabled,
		provider,
		time.Now().UTC(),
		accountID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return accountdomain.ErrNotFound
	}

	s.log.Info("payout status updated",
		zap.String("account_id", accountID.String()),
		zap.String("provider", provider),
		zap.Bool("enabled", enabled),
	)
	return nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
