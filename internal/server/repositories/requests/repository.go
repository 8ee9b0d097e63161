package requests

import (
	"context"

	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID int64) (*models.AccessRequest, error)
	GetByID(ctx context.Context, id int64) (*models.AccessRequest, error)
	HasPending(ctx context.Context, userID int64) (bool, error)
	// Approve and Reject require the request to still be pending; calling
	// them on a processed request fails with ErrAlreadyProcessed and has no
	// side effects.
	Approve(ctx context.Context, id int64, comment string) error
	Reject(ctx context.Context, id int64, comment string) error
	ListPending(ctx context.Context) ([]*models.AccessRequest, error)
}
