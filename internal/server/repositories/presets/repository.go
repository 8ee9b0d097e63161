package presets

import (
	"context"

	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, preset *models.Preset) (*models.Preset, error)
	GetByID(ctx context.Context, id int64) (*models.Preset, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Preset, error)
	Delete(ctx context.Context, id int64) error
}
