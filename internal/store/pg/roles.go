package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"igrejaportal.org/internal/auth"
)

// bootstrapLockID keys the transaction-scoped advisory lock taken by
// InsertFirstAdmin.
const bootstrapLockID int64 = 0x706f7274616c01

var (
	_ auth.RoleStore          = (*RoleStore)(nil)
	_ auth.AtomicBootstrapper = (*RoleStore)(nil)
)

// RoleStore reads and writes role_assignments.
type RoleStore struct{ db *sql.DB }

// Roles returns the role_assignments accessor.
func (s *Store) Roles() *RoleStore { return &RoleStore{db: s.db} }

func (s *RoleStore) Lookup(ctx context.Context, userID string) (auth.RoleAssignment, error) {
	if s.db == nil {
		return auth.RoleAssignment{}, errNoDB
	}
	var (
		a    auth.RoleAssignment
		role string
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, role, created_by, created_at
		from role_assignments
		where user_id = $1
	`, userID).Scan(&a.UserID, &role, &a.CreatedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleAssignment{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.RoleAssignment{}, err
	}
	a.Role = auth.Role(role)
	return a, nil
}

func (s *RoleStore) HasAny(ctx context.Context) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from role_assignments)`).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *RoleStore) Insert(ctx context.Context, a auth.RoleAssignment) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (user_id, role, created_by)
		values ($1, $2, $3)
	`, a.UserID, string(a.Role), a.CreatedBy)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

// InsertFirstAdmin runs the emptiness check and the insert in one
// transaction holding pg_advisory_xact_lock, so concurrent first logins
// across instances promote exactly one user.
func (s *RoleStore) InsertFirstAdmin(ctx context.Context, a auth.RoleAssignment) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, bootstrapLockID); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from role_assignments)`).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		insert into role_assignments (user_id, role, created_by)
		values ($1, $2, $3)
	`, a.UserID, string(a.Role), a.CreatedBy); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
