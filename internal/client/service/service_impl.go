package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) clientdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("client.service"),
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req clientdomain.CreateClientRequest) (clientdomain.Client, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return clientdomain.Client{}, clientdomain.ErrInvalidAccount
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return clientdomain.Client{}, clientdomain.ErrInvalidName
	}

	now := time.Now().UTC()
	client := clientdomain.Client{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Name:      name,
		Email:     normalizeOptional(req.Email),
		Address:   normalizeOptional(req.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&client).Error; err != nil {
		return clientdomain.Client{}, err
	}
	return client, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req clientdomain.UpdateClientRequest) (clientdomain.Client, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return clientdomain.Client{}, clientdomain.ErrInvalidAccount
	}

	client, err := s.load(ctx, accountID, id)
	if err != nil {
		return clientdomain.Client{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return clientdomain.Client{}, clientdomain.ErrInvalidName
		}
		client.Name = name
	}
	if req.Email != nil {
		client.Email = normalizeOptional(req.Email)
	}
	if req.Address != nil {
		client.Address = normalizeOptional(req.Address)
	}
	client.UpdatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).Save(&client).Error; err != nil {
		return clientdomain.Client{}, err
	}
	return client, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (clientdomain.Client, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return clientdomain.Client{}, clientdomain.ErrInvalidAccount
	}
	return s.load(ctx, accountID, id)
}

func (s *Service) List(ctx context.Context) ([]clientdomain.Client, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return nil, clientdomain.ErrInvalidAccount
	}

	var clients []clientdomain.Client
	err := s.db.WithContext(ctx).
		Where(&clientdomain.Client{AccountID: accountID}).
		Order("created_at DESC").
		Find(&clients).Error
	if err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Service) load(ctx context.Context, accountID, id snowflake.ID) (clientdomain.Client, error) {
	var client clientdomain.Client
	err := s.db.WithContext(ctx).
		Where(&clientdomain.Client{ID: id, AccountID: accountID}).
		First(&client).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return clientdomain.Client{}, clientdomain.ErrNotFound
		}
		return clientdomain.Client{}, err
	}
	return client, nil
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
