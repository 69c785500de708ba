// Package audit emits the operational security event stream as JSON lines.
// It complements the durable role_assignment_history table: history rows
// answer who changed whose privileges, audit events cover the rest of the
// security-relevant surface (sessions, accounts, grants, tickets).
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
)

// Event names the action being recorded.
type Event string

const (
	UserRegistered         Event = "auth.user.registered"
	SessionIssued          Event = "auth.session.issued"
	SessionRevoked         Event = "auth.session.revoked"
	ProfileUpdated         Event = "account.profile.updated"
	AccountDeleted         Event = "account.deleted"
	TicketCreated          Event = "ticket.created"
	TicketStatusUpdated    Event = "ticket.status.updated"
	RoleCreated            Event = "rbac.role.created"
	RoleDeleted            Event = "rbac.role.deleted"
	RolePermissionsUpdated Event = "rbac.role.permissions.updated"
	PermissionDeleted      Event = "rbac.permission.deleted"
	RoleAssigned           Event = "rbac.role.assigned"
	RolesReplaced          Event = "rbac.roles.replaced"
	RoleRemoved            Event = "rbac.role.removed"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type entry struct {
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Event      Event          `json:"event"`
	RequestID  string         `json:"request_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorRoles []string       `json:"actor_roles,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// LogEvent writes one audit line, enriched with the request id and the
// acting session's identity. The actor is whoever holds the session, which
// for self-service events is also the subject of the change.
func LogEvent(ctx context.Context, event Event, fields map[string]any) error {
	if strings.TrimSpace(string(event)) == "" {
		return errors.New("event name is required")
	}
	e := entry{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    map[string]any{},
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		e.ActorID = claims.Subject
		e.ActorRoles = claims.Roles
	}
	for k, v := range fields {
		e.Fields[k] = v
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
