package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(conn), mock, conn
}

const rotateQuery = `(?s)UPDATE sessions\s+SET refresh_jti = \$3, refresh_token_hash = \$4, expires_at = \$5, last_seen_at = \$6\s+WHERE id = \$1 AND refresh_token_hash = \$2 AND revoked_at IS NULL`

func TestRotateRefreshToken_Won(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	exp := time.Now().Add(time.Hour).UTC()
	at := time.Now().UTC()
	mock.ExpectExec(rotateQuery).
		WithArgs("s1", "old", "jti2", "new", exp, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.RotateRefreshToken(context.Background(), "s1", "old", "jti2", "new", exp, at)
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshToken_Lost(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectExec(rotateQuery).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.RotateRefreshToken(context.Background(), "s1", "stale", "jti2", "new", time.Now(), time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRevokeByDevice(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE sessions SET revoked_at = \$1, revoked_reason = \$2 WHERE user_id = \$3 AND device_id = \$4 AND revoked_at IS NULL`).
		WithArgs(at, "device_logout", "u1", "d1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeByDevice(context.Background(), "u1", "d1", "device_logout", at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM sessions WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	s, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, s)
}
