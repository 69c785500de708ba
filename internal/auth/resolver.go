package auth

import (
	"context"
	"strings"

	"opsdesk.org/internal/obs"
)

// Resolver computes the current authorization facts for a user by joining
// the directory store. Every call is a fresh read; the only cache of these
// facts lives inside issued session tokens.
//
// Read failures collapse to "no privilege" so a broken store can never
// grant access. Snapshot is the strict variant used by issuance paths that
// must not silently issue an empty claim set.
type Resolver struct {
	store AuthorizationStore
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store AuthorizationStore) *Resolver {
	return &Resolver{store: store}
}

// Roles returns the user's current role names. Empty on store failure.
func (r *Resolver) Roles(ctx context.Context, userID string) []string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	roles, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		logResolverFailure("roles", userID, err)
		return nil
	}
	return dedupeRoles(roles)
}

// Permissions returns the union of permissions granted by the user's roles,
// deduplicated. Empty on store failure.
func (r *Resolver) Permissions(ctx context.Context, userID string) []string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	perms, err := r.store.UserPermissions(ctx, userID)
	if err != nil {
		logResolverFailure("permissions", userID, err)
		return nil
	}
	return dedupeStrings(perms)
}

// HasRole is a single-row existence check; it does not materialize the set.
func (r *Resolver) HasRole(ctx context.Context, userID, roleName string) bool {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	if userID == "" || roleName == "" {
		return false
	}
	ok, err := r.store.UserHasRole(ctx, userID, roleName)
	if err != nil {
		logResolverFailure("has_role", userID, err)
		return false
	}
	return ok
}

// HasPermission is a single-row existence check.
func (r *Resolver) HasPermission(ctx context.Context, userID, permissionName string) bool {
	userID = strings.TrimSpace(userID)
	permissionName = strings.TrimSpace(permissionName)
	if userID == "" || permissionName == "" {
		return false
	}
	ok, err := r.store.UserHasPermission(ctx, userID, permissionName)
	if err != nil {
		logResolverFailure("has_permission", userID, err)
		return false
	}
	return ok
}

// Snapshot returns both sets in one pass, propagating store errors. Token
// issuance uses this: issuing a token with a silently emptied claim set
// would lock the user out until expiry.
func (r *Resolver) Snapshot(ctx context.Context, userID string) (roles, permissions []string, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrInvalidInput
	}
	roles, err = r.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	permissions, err = r.store.UserPermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return dedupeRoles(roles), dedupeStrings(permissions), nil
}

func logResolverFailure(op, userID string, err error) {
	obs.LogRequest(map[string]any{
		"level":   "warn",
		"msg":     "resolver_store_failure",
		"op":      op,
		"user_id": userID,
		"error":   err.Error(),
	})
}
