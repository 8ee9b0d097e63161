package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/dbx"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateActive(ctx context.Context, profile *models.Profile) (*models.Profile, error) {

	// Deactivate first: the one-active-profile invariant must hold at every
	// observable point, so the flip happens before the insert on the same
	// handle (the caller supplies a transaction). A concurrent transaction's
	// uncommitted active row is invisible here; the partial unique index on
	// (user_id) WHERE is_active catches that race at insert time.
	if err := r.DeactivateAll(ctx, profile.UserID); err != nil {
		return nil, err
	}

	data, err := json.Marshal(profile.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal profile data: %w", err)
	}
	settings, err := json.Marshal(profile.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal profile settings: %w", err)
	}

	query :=
		`INSERT INTO vpn_profiles (user_id, protocol_name, profile_data, settings, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING id, created_at
		 `

	err = r.db.QueryRowContext(ctx, query,
		profile.UserID, profile.ProtocolName, data, settings).Scan(&profile.ID, &profile.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrConflictActiveOrPending
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	profile.IsActive = true
	return profile, nil
}

func (r *PostgresRepository) DeactivateAll(ctx context.Context, userID int64) error {
	query :=
		`UPDATE vpn_profiles SET is_active = FALSE
		 WHERE user_id = $1 AND is_active
		 `

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActiveByUser(ctx context.Context, userID int64) (*models.Profile, error) {
	query :=
		`SELECT id, user_id, protocol_name, profile_data, settings, is_active, created_at FROM vpn_profiles
		 WHERE user_id = $1 AND is_active
		 `
	return r.scanProfile(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Profile, error) {
	query :=
		`SELECT id, user_id, protocol_name, profile_data, settings, is_active, created_at FROM vpn_profiles
		 WHERE id = $1
		 `
	return r.scanProfile(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID int64) error {
	query :=
		`DELETE FROM vpn_profiles
		 WHERE user_id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, profileID int64, settings models.ProfileSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal profile settings: %w", err)
	}

	query :=
		`UPDATE vpn_profiles SET settings = $2
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, profileID, data)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) scanProfile(row *sql.Row) (*models.Profile, error) {
	profile := &models.Profile{}
	var data, settings []byte

	err := row.Scan(&profile.ID, &profile.UserID, &profile.ProtocolName,
		&data, &settings, &profile.IsActive, &profile.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	// Stored payloads are written by this service; a decode failure means
	// the row was edited out-of-band and is unusable.
	if err := json.Unmarshal(data, &profile.Data); err != nil {
		return nil, fmt.Errorf("decode profile data: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &profile.Settings); err != nil {
			return nil, fmt.Errorf("decode profile settings: %w", err)
		}
	}

	return profile, nil
}
