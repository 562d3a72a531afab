package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateClientRequest struct {
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type UpdateClientRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateClientRequest) (Client, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateClientRequest) (Client, error)
	GetByID(ctx context.Context, id snowflake.ID) (Client, error)
	List(ctx context.Context) ([]Client, error)
}

var (
	ErrNotFound       = errors.New("client_not_found")
	ErrInvalidName    = errors.New("invalid_client_name")
	ErrInvalidAccount = errors.New("invalid_account")
)
