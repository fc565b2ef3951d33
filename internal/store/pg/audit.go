package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"igrejaportal.org/internal/audit"
)

var _ audit.Store = (*AuditStore)(nil)

// AuditStore reads and writes audit_logs.
type AuditStore struct{ db *sql.DB }

// Audit returns the audit_logs accessor.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

func (s *AuditStore) Insert(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, actor_user_id, actor_role, action, resource_type, resource_id, payload, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, nullIfEmpty(e.ActorUserID), nullIfEmpty(e.ActorRole), string(e.Action), string(e.ResourceType),
		nullIfEmpty(e.ResourceID), payload, e.CreatedAt)
	return err
}

// whereClause renders f as a WHERE clause with positional args.
func whereClause(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add(`action ilike $%d escape '\'`, audit.LikePattern(f.Action))
	}
	if f.ResourceType != "" {
		add(`resource_type ilike $%d escape '\'`, audit.LikePattern(f.ResourceType))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

// Search returns matching entries newest first, id descending on ties.
func (s *AuditStore) Search(ctx context.Context, f audit.Filter, limit, offset int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := whereClause(f)
	args = append(args, limit, offset)
	query := `
		select id, actor_user_id, actor_role, action, resource_type, resource_id, payload, created_at
		from audit_logs` + where + fmt.Sprintf(`
		order by created_at desc, id desc
		limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e                         audit.Entry
			actorID, role, resourceID sql.NullString
			action, resourceType      string
			payload                   []byte
		)
		if err := rows.Scan(&e.ID, &actorID, &role, &action, &resourceType, &resourceID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorUserID = ptrIfValid(actorID)
		e.ActorRole = ptrIfValid(role)
		e.Action = audit.Action(action)
		e.ResourceType = audit.ResourceType(resourceType)
		e.ResourceID = ptrIfValid(resourceID)
		e.Payload = map[string]any{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *AuditStore) Count(ctx context.Context, f audit.Filter) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *AuditStore) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where created_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
