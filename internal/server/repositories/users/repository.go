package users

import (
	"context"

	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type Repository interface {
	// Upsert creates the user on first contact or refreshes the mutable
	// fields (name, username) on subsequent ones.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	// ListWithActiveProfile returns users owning a profile with is_active=true.
	ListWithActiveProfile(ctx context.Context) ([]*models.User, error)
}
