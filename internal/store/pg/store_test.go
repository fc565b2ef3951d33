package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
)

func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestRoleLookup(t *testing.T) {
	s, mock := setupMockDB(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("select user_id, role, created_by, created_at").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role", "created_by", "created_at"}).
			AddRow("u1", "operador", "root", created))
	a, err := s.Roles().Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOperador, a.Role)
	assert.Equal(t, "root", a.CreatedBy)
	assert.Equal(t, created, a.CreatedAt)

	mock.ExpectQuery("select user_id, role, created_by, created_at").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err = s.Roles().Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleHasAnyAndInsert(t *testing.T) {
	s, mock := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from role_assignments)")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	exists, err := s.Roles().HasAny(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	mock.ExpectExec("insert into role_assignments").
		WithArgs("u1", "admin", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Roles().Insert(ctx, auth.RoleAssignment{UserID: "u1", Role: auth.RoleAdmin, CreatedBy: "u1"}))

	mock.ExpectExec("insert into role_assignments").
		WithArgs("u1", "operador", "root").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	err = s.Roles().Insert(ctx, auth.RoleAssignment{UserID: "u1", Role: auth.RoleOperador, CreatedBy: "root"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFirstAdmin(t *testing.T) {
	t.Run("empty table promotes", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_xact_lock($1)")).
			WithArgs(bootstrapLockID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from role_assignments)")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("insert into role_assignments").
			WithArgs("first", "admin", "first").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := s.Roles().InsertFirstAdmin(context.Background(), auth.RoleAssignment{UserID: "first", Role: auth.RoleAdmin, CreatedBy: "first"})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("populated table is a noop", func(t *testing.T) {
		s, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_xact_lock($1)")).
			WithArgs(bootstrapLockID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from role_assignments)")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		ok, err := s.Roles().InsertFirstAdmin(context.Background(), auth.RoleAssignment{UserID: "late", Role: auth.RoleAdmin, CreatedBy: "late"})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditInsert(t *testing.T) {
	s, mock := setupMockDB(t)
	actor := "u1"
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into audit_logs").
		WithArgs("01ABC", "u1", nil, "ACCESS_DENIED", "authorization", "x", []byte(`{"currentRole":null,"requiredRole":"admin","scope":"x"}`), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resource := "x"
	err := s.Audit().Insert(context.Background(), audit.Entry{
		ID:           "01ABC",
		ActorUserID:  &actor,
		Action:       audit.ActionAccessDenied,
		ResourceType: audit.ResourceAuthorization,
		ResourceID:   &resource,
		Payload:      map[string]any{"requiredRole": "admin", "currentRole": nil, "scope": "x"},
		CreatedAt:    at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditSearchBuildsFilters(t *testing.T) {
	s, mock := setupMockDB(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	created := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from audit_logs where action ilike \$1 escape '\\' and resource_type ilike \$2 escape '\\' and created_at >= \$3 and created_at <= \$4\s+order by created_at desc, id desc\s+limit \$5 offset \$6`).
		WithArgs(`%ban\_%`, "%news%", from, to, 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_user_id", "actor_role", "action", "resource_type", "resource_id", "payload", "created_at"}).
			AddRow("01B", "u1", "admin", "BANNER_CREATE", "banners", "b1", []byte(`{"title":"t"}`), created).
			AddRow("01A", nil, nil, "AUDIT_CLEANUP", "audit_logs", nil, []byte(`{}`), created))

	entries, err := s.Audit().Search(context.Background(), audit.Filter{Action: "ban_", ResourceType: "news", From: &from, To: &to}, 20, 40)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", *entries[0].ActorUserID)
	assert.Equal(t, "t", entries[0].Payload["title"])
	assert.Nil(t, entries[1].ActorUserID)
	assert.Nil(t, entries[1].ResourceID)
	assert.NotNil(t, entries[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditCountWithoutFilters(t *testing.T) {
	s, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from audit_logs")).
		WithoutArgs().
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Audit().Count(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDeleteOlderThan(t *testing.T) {
	s, mock := setupMockDB(t)
	threshold := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("delete from audit_logs where created_at < $1")).
		WithArgs(threshold).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.Audit().DeleteOlderThan(context.Background(), threshold)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	mock.ExpectExec(regexp.QuoteMeta("delete from audit_logs where created_at < $1")).
		WithArgs(threshold).
		WillReturnError(errors.New("lock timeout"))
	n, err = s.Audit().DeleteOlderThan(context.Background(), threshold)
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDBGuards(t *testing.T) {
	s := New(nil)
	_, err := s.Roles().HasAny(context.Background())
	assert.Error(t, err)
	_, err = s.Audit().Count(context.Background(), audit.Filter{})
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}
