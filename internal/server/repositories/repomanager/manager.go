package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vpnaccess/internal/dbx"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/presets"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/requests"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Profiles(db dbx.DBTX) profiles.Repository
	Requests(db dbx.DBTX) requests.Repository
	Presets(db dbx.DBTX) presets.Repository
}
