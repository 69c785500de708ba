package auth

import (
	"context"
	"time"
)

// Store groups the directory persistence operations the core requires.
type Store interface {
	UserStore
	AuthorizationStore
	RoleStore
	SessionStore
	HistoryStore
}

// UserStore manages identity rows and their lifecycle.
type UserStore interface {
	CreateUser(ctx context.Context, nu NewUser) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByProvider(ctx context.Context, provider, providerID string) (User, error)
	UpdateUser(ctx context.Context, userID string, upd ProfileUpdate) (User, error)
	LinkFederatedIdentity(ctx context.Context, userID string, ident FederatedIdentity) error
	UpdateFederatedTokens(ctx context.Context, userID, accessToken, refreshToken string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	// DeleteAccount removes the user and every dependent row (sessions, role
	// assignments, history, tickets, verification tokens) in one transaction.
	DeleteAccount(ctx context.Context, userID string) error

	CreateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ConsumeVerificationToken invalidates the token and returns the user it
	// was issued for. Expired or unknown tokens report ErrNotFound.
	ConsumeVerificationToken(ctx context.Context, token string) (string, error)
}

// AuthorizationStore answers the resolver's read queries. Names are
// returned, not ids; permission sets are deduplicated by the query.
type AuthorizationStore interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
	UserPermissions(ctx context.Context, userID string) ([]string, error)
	UserHasRole(ctx context.Context, userID, roleName string) (bool, error)
	UserHasPermission(ctx context.Context, userID, permissionName string) (bool, error)
}

// RoleStore manages roles, permissions and assignments.
type RoleStore interface {
	CreateRole(ctx context.Context, name, description string) (Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// DeleteRole cascades removal of the role's assignment and grant rows.
	DeleteRole(ctx context.Context, roleID string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	EnsurePermissions(ctx context.Context, perms []Permission) error
	PermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeletePermission(ctx context.Context, permissionID string) error

	// AddAssignment reports false when the user already held the role.
	AddAssignment(ctx context.Context, userID, roleID string) (bool, error)
	// RemoveAssignment reports false when the user did not hold the role.
	RemoveAssignment(ctx context.Context, userID, roleID string) (bool, error)
	// ReplaceAssignments applies the computed set difference and its history
	// entries inside a single transaction.
	ReplaceAssignments(ctx context.Context, userID string, assign, remove []Role, actor string) error
}

// SessionStore manages the persisted revocation records.
type SessionStore interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, token string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
}

// HistoryStore appends immutable privilege-change entries.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	ListHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}
