// Package helpdesk holds the support-ticket entity and its service. The
// ticket workflow is deliberately thin CRUD; authorization for every
// operation is enforced by the HTTP guards, not here.
package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ticket statuses.
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

var (
	ErrNotFound     = errors.New("helpdesk: not found")
	ErrInvalidInput = errors.New("helpdesk: invalid input")
)

// Ticket is a support request raised by a user.
type Ticket struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store describes ticket persistence.
type Store interface {
	CreateTicket(ctx context.Context, authorID, subject, body string) (Ticket, error)
	GetTicket(ctx context.Context, id string) (Ticket, error)
	ListTickets(ctx context.Context, authorID string, limit int) ([]Ticket, error)
	UpdateTicketStatus(ctx context.Context, id, status string) (Ticket, error)
}

// Service validates ticket operations before hitting the store.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("helpdesk: store is required")
	}
	return &Service{store: store}, nil
}

// Create opens a ticket for the author.
func (s *Service) Create(ctx context.Context, authorID, subject, body string) (Ticket, error) {
	authorID = strings.TrimSpace(authorID)
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if authorID == "" {
		return Ticket{}, fmt.Errorf("%w: author is required", ErrInvalidInput)
	}
	if subject == "" {
		return Ticket{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	return s.store.CreateTicket(ctx, authorID, subject, body)
}

// Get fetches one ticket.
func (s *Service) Get(ctx context.Context, id string) (Ticket, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Ticket{}, fmt.Errorf("%w: ticket id is required", ErrInvalidInput)
	}
	return s.store.GetTicket(ctx, id)
}

// List returns tickets, optionally filtered to one author. A zero or
// negative limit falls back to 100.
func (s *Service) List(ctx context.Context, authorID string, limit int) ([]Ticket, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListTickets(ctx, strings.TrimSpace(authorID), limit)
}

// UpdateStatus moves a ticket through its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (Ticket, error) {
	id = strings.TrimSpace(id)
	status = strings.TrimSpace(strings.ToLower(status))
	if id == "" {
		return Ticket{}, fmt.Errorf("%w: ticket id is required", ErrInvalidInput)
	}
	switch status {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
	default:
		return Ticket{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	return s.store.UpdateTicketStatus(ctx, id, status)
}
