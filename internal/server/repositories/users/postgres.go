package users

import (
	"context"
	"database/sql"
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

func (r *PostgresRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (telegram_id, username, full_name, is_admin)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (telegram_id)
		 DO UPDATE SET username = EXCLUDED.username, full_name = EXCLUDED.full_name
		 RETURNING id, is_admin
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.TelegramID, user.Username, user.FullName, user.IsAdmin).Scan(&user.ID, &user.IsAdmin)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query :=
		`SELECT id, telegram_id, username, full_name, is_admin FROM users
		 WHERE telegram_id = $1
		 `

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(
		&user.ID, &user.TelegramID, &user.Username, &user.FullName, &user.IsAdmin)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query :=
		`SELECT id, telegram_id, username, full_name, is_admin FROM users
		 WHERE id = $1
		 `

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.TelegramID, &user.Username, &user.FullName, &user.IsAdmin)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.User, error) {
	query :=
		`SELECT id, telegram_id, username, full_name, is_admin FROM users
		 ORDER BY id
		 `
	return r.queryUsers(ctx, query)
}

func (r *PostgresRepository) ListWithActiveProfile(ctx context.Context) ([]*models.User, error) {
	query :=
		`SELECT u.id, u.telegram_id, u.username, u.full_name, u.is_admin FROM users u
		 WHERE EXISTS (SELECT 1 FROM vpn_profiles p WHERE p.user_id = u.id AND p.is_active)
		 ORDER BY u.id
		 `
	return r.queryUsers(ctx, query)
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.TelegramID, &user.Username, &user.FullName, &user.IsAdmin); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
