package requests

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

func (r *PostgresRepository) Create(ctx context.Context, userID int64) (*models.AccessRequest, error) {
	query :=
		`INSERT INTO vpn_requests (user_id, status)
		 VALUES ($1, 'pending')
		 RETURNING id, created_at
		 `

	request := &models.AccessRequest{UserID: userID, Status: models.RequestPending}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&request.ID, &request.CreatedAt)

	if err != nil {
		// A racing transaction's pending row is invisible to the HasPending
		// check; the partial unique index rejects the second insert.
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrConflictActiveOrPending
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return request, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.AccessRequest, error) {
	query :=
		`SELECT id, user_id, status, created_at, processed_at, COALESCE(admin_comment, '') FROM vpn_requests
		 WHERE id = $1
		 `

	request := &models.AccessRequest{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.UserID, &request.Status,
		&request.CreatedAt, &request.ProcessedAt, &request.AdminComment)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return request, nil
}

func (r *PostgresRepository) HasPending(ctx context.Context, userID int64) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM vpn_requests WHERE user_id = $1 AND status = 'pending')
		 `

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Approve(ctx context.Context, id int64, comment string) error {
	return r.process(ctx, id, models.RequestApproved, comment)
}

func (r *PostgresRepository) Reject(ctx context.Context, id int64, comment string) error {
	return r.process(ctx, id, models.RequestRejected, comment)
}

// process moves a pending request to a terminal status. The status guard in
// the WHERE clause makes the transition exactly-once: a second call matches
// zero rows.
func (r *PostgresRepository) process(ctx context.Context, id int64, status models.RequestStatus, comment string) error {
	query :=
		`UPDATE vpn_requests SET status = $2, processed_at = now(), admin_comment = NULLIF($3, '')
		 WHERE id = $1 AND status = 'pending'
		 `

	res, err := r.db.ExecContext(ctx, query, id, status, comment)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyProcessed
	}
	return nil
}

func (r *PostgresRepository) ListPending(ctx context.Context) ([]*models.AccessRequest, error) {
	query :=
		`SELECT id, user_id, status, created_at, processed_at, COALESCE(admin_comment, '') FROM vpn_requests
		 WHERE status = 'pending'
		 ORDER BY created_at
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessRequest
	for rows.Next() {
		request := &models.AccessRequest{}
		if err := rows.Scan(&request.ID, &request.UserID, &request.Status,
			&request.CreatedAt, &request.ProcessedAt, &request.AdminComment); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
