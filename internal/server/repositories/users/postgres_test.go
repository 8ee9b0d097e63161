package users

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(int64(42), "alice", "Alice A", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_admin"}).AddRow(int64(7), true))

	user, err := repo.Upsert(context.Background(), &models.User{
		TelegramID: 42, Username: "alice", FullName: "Alice A",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	// is_admin comes back from the stored row, not the input.
	assert.True(t, user.IsAdmin)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByTelegramID(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "telegram_id", "username", "full_name", "is_admin"}).
		AddRow(int64(7), int64(42), "alice", "Alice A", false)
	mock.ExpectQuery(`WHERE telegram_id = \$1`).WithArgs(int64(42)).WillReturnRows(rows)

	user, err := repo.GetByTelegramID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByTelegramID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`WHERE telegram_id = \$1`).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "telegram_id", "username", "full_name", "is_admin"}))

	_, err := repo.GetByTelegramID(context.Background(), 42)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListWithActiveProfile(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "telegram_id", "username", "full_name", "is_admin"}).
		AddRow(int64(1), int64(42), "alice", "Alice A", false).
		AddRow(int64(2), int64(43), "bob", "Bob B", true)
	mock.ExpectQuery(`WHERE EXISTS \(SELECT 1 FROM vpn_profiles`).WillReturnRows(rows)

	users, err := repo.ListWithActiveProfile(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)
	require.NoError(t, mock.ExpectationsWereMet())
}
