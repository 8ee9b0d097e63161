package profiles

import (
	"context"

	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type Repository interface {
	// CreateActive deactivates every existing profile of the user, then
	// inserts the new one as active. The two statements must run on the same
	// transactional handle; deactivation is observable before the insert
	// commits so a concurrent reader never sees two active profiles.
	CreateActive(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	DeactivateAll(ctx context.Context, userID int64) error
	GetActiveByUser(ctx context.Context, userID int64) (*models.Profile, error)
	GetByID(ctx context.Context, id int64) (*models.Profile, error)
	// DeleteByUser removes every profile row of the user (revoke).
	DeleteByUser(ctx context.Context, userID int64) error
	UpdateSettings(ctx context.Context, profileID int64, settings models.ProfileSettings) error
}
