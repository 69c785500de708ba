package auth

import "time"

// User is an identity record. PasswordHash is empty for federated-only
// accounts; Provider/ProviderID are empty for local-password accounts.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	Provider      string    `json:"provider,omitempty"`
	ProviderID    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Role groups permissions. The builtin roles "admin" and "user" cannot be
// renamed or deleted.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability named "action:resource".
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment links a user to a role. Membership is a set; there is no
// ordering or weighting.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// History entry actions.
const (
	HistoryAssign = "assign"
	HistoryRemove = "remove"
)

// HistoryEntry is an append-only record of a privilege change attempt.
// Entries are never mutated or deleted outside the account-deletion cascade.
type HistoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	RoleName  string    `json:"role_name,omitempty"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRecord is the persisted side of an issued session, used only for
// coarse revocation (sign-out, account deletion). Per-request authorization
// reads the token's embedded claims, never this row.
type SessionRecord struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// FederatedIdentity is what an external provider attests after a completed
// OAuth exchange.
type FederatedIdentity struct {
	Provider     string
	ProviderID   string
	Email        string
	DisplayName  string
	AccessToken  string
	RefreshToken string
}

// NewUser carries the fields required to create a user row.
type NewUser struct {
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	Provider      string
	ProviderID    string
}

// ProfileUpdate is a partial user update; nil fields are left untouched.
// Password, when set, must already be hashed.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
	Password    *string
}
