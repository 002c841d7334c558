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

	"unified-ai/backend/internal/organization/domain"
	"unified-ai/backend/internal/platform/apperr"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewPostgresRepository(conn), mock
}

func TestGetMember_DecodesOverrides(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM organization_members WHERE org_id = \$1 AND user_id = \$2`).
		WithArgs("o1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "user_id", "role", "permissions", "created_at"}).
			AddRow("m1", "o1", "u1", "ADMIN", []byte(`{"delete":false}`), now))

	m, err := repo.GetMember(context.Background(), "o1", "u1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, domain.RoleAdmin, m.Role)
	allowed, set := m.Override("delete")
	assert.True(t, set)
	assert.False(t, allowed)
}

func TestGetMember_Missing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM organization_members`).WillReturnError(sql.ErrNoRows)

	m, err := repo.GetMember(context.Background(), "o1", "u1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCreateMember_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO organization_members`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreateMember(context.Background(), &domain.Member{ID: "m1", OrgID: "o1", UserID: "u1", Role: domain.RoleMember})
	assert.ErrorIs(t, err, apperr.ErrAlreadyMember)
}

func TestLockOrganization_UsesRowLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM organizations WHERE id = \$1 FOR UPDATE`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "plan", "seat_limit", "created_at"}).
			AddRow("o1", "Acme", "u1", "team", 5, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM organization_members WHERE org_id = \$1`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx Repository) error {
		o, err := tx.LockOrganization(context.Background(), "o1")
		require.NoError(t, err)
		assert.Equal(t, 5, o.SeatLimit)
		n, err := tx.CountMembers(context.Background(), "o1")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
