package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-ai/backend/internal/device/domain"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(conn), mock, conn
}

func TestUpdateLastSync_IsMonotonicInSQL(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE devices SET last_sync_at = GREATEST\(COALESCE\(last_sync_at, \$2\), \$2\)`).
		WithArgs("d1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLastSync(context.Background(), "d1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "name", "platform", "last_sync_at", "is_active", "created_at"}).
		AddRow("d1", "u1", "laptop", "desktop", nil, true, now).
		AddRow("d2", "u1", "phone", "mobile", now, false, now)
	mock.ExpectQuery(`SELECT .* FROM devices WHERE user_id = \$1 ORDER BY created_at, id`).
		WithArgs("u1").
		WillReturnRows(rows)

	got, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.PlatformDesktop, got[0].Platform)
	assert.Nil(t, got[0].LastSyncAt)
	assert.Equal(t, domain.PlatformMobile, got[1].Platform)
	assert.False(t, got[1].IsActive)
	require.NotNil(t, got[1].LastSyncAt)
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectExec(`INSERT INTO devices`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &domain.Device{ID: "d1", UserID: "u1", Name: "laptop", Platform: domain.PlatformWeb})
	assert.ErrorIs(t, err, ErrDuplicateDevice)
}
