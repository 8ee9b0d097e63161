package presets

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

func (r *PostgresRepository) Create(ctx context.Context, preset *models.Preset) (*models.Preset, error) {
	options := preset.Options
	if options == nil {
		options = map[string]string{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal preset options: %w", err)
	}

	query :=
		`INSERT INTO connection_presets (user_id, profile_id, name, app_type, format, options)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at
		 `

	err = r.db.QueryRowContext(ctx, query,
		preset.UserID, preset.ProfileID, preset.Name, preset.AppType, preset.Format, data).
		Scan(&preset.ID, &preset.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return preset, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Preset, error) {
	query :=
		`SELECT id, user_id, profile_id, name, app_type, format, options, created_at FROM connection_presets
		 WHERE id = $1
		 `

	preset := &models.Preset{}
	var options []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&preset.ID, &preset.UserID, &preset.ProfileID,
		&preset.Name, &preset.AppType, &preset.Format, &options, &preset.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := json.Unmarshal(options, &preset.Options); err != nil {
		return nil, fmt.Errorf("decode preset options: %w", err)
	}

	return preset, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Preset, error) {
	query :=
		`SELECT id, user_id, profile_id, name, app_type, format, options, created_at FROM connection_presets
		 WHERE user_id = $1
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Preset
	for rows.Next() {
		preset := &models.Preset{}
		var options []byte
		if err := rows.Scan(&preset.ID, &preset.UserID, &preset.ProfileID,
			&preset.Name, &preset.AppType, &preset.Format, &options, &preset.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := json.Unmarshal(options, &preset.Options); err != nil {
			return nil, fmt.Errorf("decode preset options: %w", err)
		}
		result = append(result, preset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query :=
		`DELETE FROM connection_presets
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
