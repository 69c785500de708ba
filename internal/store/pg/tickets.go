package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsdesk.org/internal/helpdesk"
	"opsdesk.org/internal/ids"
)

func (s *Store) CreateTicket(ctx context.Context, authorID, subject, body string) (helpdesk.Ticket, error) {
	if s.db == nil {
		return helpdesk.Ticket{}, errors.New("database connection unavailable")
	}
	var t helpdesk.Ticket
	row := s.db.QueryRowContext(ctx, `
		insert into tickets (id, author_id, subject, body, status)
		values ($1, $2, $3, $4, $5)
		returning id, author_id, subject, body, status, created_at, updated_at
	`, ids.New(), authorID, subject, body, helpdesk.StatusOpen)
	if err := row.Scan(&t.ID, &t.AuthorID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return helpdesk.Ticket{}, helpdesk.ErrNotFound
		}
		return helpdesk.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (helpdesk.Ticket, error) {
	if s.db == nil {
		return helpdesk.Ticket{}, errors.New("database connection unavailable")
	}
	var t helpdesk.Ticket
	err := s.db.QueryRowContext(ctx, `
		select id, author_id, subject, body, status, created_at, updated_at
		from tickets
		where id = $1
	`, id).Scan(&t.ID, &t.AuthorID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return helpdesk.Ticket{}, helpdesk.ErrNotFound
	}
	if err != nil {
		return helpdesk.Ticket{}, err
	}
	return t, nil
}

func (s *Store) ListTickets(ctx context.Context, authorID string, limit int) ([]helpdesk.Ticket, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, author_id, subject, body, status, created_at, updated_at
		from tickets
		where ($1 = '' or author_id = $1)
		order by created_at desc
		limit $2
	`, authorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []helpdesk.Ticket
	for rows.Next() {
		var t helpdesk.Ticket
		if err := rows.Scan(&t.ID, &t.AuthorID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id, status string) (helpdesk.Ticket, error) {
	if s.db == nil {
		return helpdesk.Ticket{}, errors.New("database connection unavailable")
	}
	var t helpdesk.Ticket
	err := s.db.QueryRowContext(ctx, `
		update tickets set status = $2, updated_at = now()
		where id = $1
		returning id, author_id, subject, body, status, created_at, updated_at
	`, id, status).Scan(&t.ID, &t.AuthorID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return helpdesk.Ticket{}, helpdesk.ErrNotFound
	}
	if err != nil {
		return helpdesk.Ticket{}, err
	}
	return t, nil
}
