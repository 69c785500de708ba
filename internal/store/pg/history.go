package pg

import (
	"context"
	"errors"

	"opsdesk.org/internal/auth"
)

func (s *Store) AppendHistory(ctx context.Context, entry auth.HistoryEntry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignment_history (id, user_id, role_id, role_name, actor, action)
		values ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.RoleID, entry.RoleName, entry.Actor, entry.Action)
	return err
}

func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]auth.HistoryEntry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, role_id, coalesce(role_name,''), actor, action, created_at
		from role_assignment_history
		where user_id = $1
		order by created_at desc, id desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []auth.HistoryEntry
	for rows.Next() {
		var e auth.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.RoleID, &e.RoleName, &e.Actor, &e.Action, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
