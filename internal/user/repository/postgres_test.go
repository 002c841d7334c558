package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/user/domain"
)

var userRowColumns = []string{
	"id", "email", "password_hash", "display_name", "email_verified",
	"verification_token_hash", "reset_token_hash", "reset_token_expires_at",
	"status", "deleted_at", "created_at", "updated_at",
}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(conn), mock, conn
}

func TestGetByEmail_Found(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "a@example.com", "hash", "Ada", true, nil, "rh", now, "active", nil, now, now)
	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE email = \$1`).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	u, err := repo.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, domain.UserStatusActive, u.Status)
	assert.Equal(t, "rh", u.ResetTokenHash)
	require.NotNil(t, u.ResetTokenExpiresAt)
	assert.True(t, u.ResetTokenExpiresAt.Equal(now))
	assert.Nil(t, u.DeletedAt)
	assert.True(t, u.CanAuthenticate())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFoundReturnsNil(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	u, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectExec(`(?s)INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	now := time.Now().UTC()
	err := repo.Create(context.Background(), &domain.User{
		ID: "u1", Email: "a@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBErrorIsWrapped(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	mock.ExpectExec(`(?s)INSERT INTO users`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestUpdatePassword_ClearsResetToken(t *testing.T) {
	repo, mock, conn := newRepoWithMock(t)
	defer conn.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`(?s)UPDATE users SET password_hash = \$2, reset_token_hash = NULL, reset_token_expires_at = NULL`).
		WithArgs("u1", "newhash", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "newhash", at))
	require.NoError(t, mock.ExpectationsWereMet())
}
