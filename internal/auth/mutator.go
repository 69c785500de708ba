package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/ids"
)

// Invalidator is the session-invalidation hook fired after a successful
// role mutation. It cannot rewrite already-issued tokens; it marks that a
// refresh is due. The default implementation only logs; stricter
// deployments can plug one that revokes the user's session records.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// InvalidatorFunc adapts a function to the Invalidator interface.
type InvalidatorFunc func(ctx context.Context, userID string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, userID string) error {
	return f(ctx, userID)
}

// Mutator applies role and permission changes. Every assign/remove attempt
// appends exactly one history entry, including redundant ones: a no-op on
// membership is still evidence of who tried to change what. Write failures
// always surface to the caller.
type Mutator struct {
	store      Store
	invalidate Invalidator
	now        func() time.Time
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithInvalidator installs the session-invalidation hook.
func WithInvalidator(inv Invalidator) MutatorOption {
	return func(m *Mutator) {
		if inv != nil {
			m.invalidate = inv
		}
	}
}

// WithMutatorClock overrides the time source (useful for tests).
func WithMutatorClock(fn func() time.Time) MutatorOption {
	return func(m *Mutator) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMutator constructs a Mutator over the given store.
func NewMutator(store Store, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		store: store,
		now:   time.Now,
		invalidate: InvalidatorFunc(func(context.Context, string) error {
			return nil
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AssignRole grants roleName to the user. Assigning an already-held role is
// a membership no-op but still appends a history entry. Fails when the role
// name does not exist.
func (m *Mutator) AssignRole(ctx context.Context, userID, roleName, actor string) error {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	if userID == "" || roleName == "" {
		return fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := m.store.RoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("resolve role %q: %w", roleName, err)
	}
	if _, err := m.store.AddAssignment(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("assign role %q: %w", roleName, err)
	}
	if err := m.appendHistory(ctx, userID, role, actor, HistoryAssign); err != nil {
		return err
	}
	return m.invalidate.Invalidate(ctx, userID)
}

// RemoveRole revokes roleName from the user. Removing a role the user never
// held leaves membership untouched but still appends a history entry. Fails
// when the role name does not exist.
func (m *Mutator) RemoveRole(ctx context.Context, userID, roleName, actor string) error {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	if userID == "" || roleName == "" {
		return fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := m.store.RoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("resolve role %q: %w", roleName, err)
	}
	if _, err := m.store.RemoveAssignment(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("remove role %q: %w", roleName, err)
	}
	if err := m.appendHistory(ctx, userID, role, actor, HistoryRemove); err != nil {
		return err
	}
	return m.invalidate.Invalidate(ctx, userID)
}

// ReplaceRoles makes the user's role set equal newRoleNames, touching only
// the symmetric difference. The delete+insert sequence and its history
// entries run in one store transaction.
func (m *Mutator) ReplaceRoles(ctx context.Context, userID string, newRoleNames []string, actor string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	desired := dedupeRoles(newRoleNames)

	current, err := m.store.UserRoles(ctx, userID)
	if err != nil {
		return fmt.Errorf("read current roles: %w", err)
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, name := range current {
		currentSet[name] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, name := range desired {
		desiredSet[name] = struct{}{}
	}

	var assign, remove []Role
	for _, name := range desired {
		if _, held := currentSet[name]; held {
			continue
		}
		role, err := m.store.RoleByName(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve role %q: %w", name, err)
		}
		assign = append(assign, role)
	}
	for _, name := range current {
		if _, keep := desiredSet[name]; keep {
			continue
		}
		role, err := m.store.RoleByName(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve role %q: %w", name, err)
		}
		remove = append(remove, role)
	}
	if len(assign) == 0 && len(remove) == 0 {
		return nil
	}
	if err := m.store.ReplaceAssignments(ctx, userID, assign, remove, actor); err != nil {
		return fmt.Errorf("replace roles: %w", err)
	}
	return m.invalidate.Invalidate(ctx, userID)
}

// DeleteRole removes a custom role, cascading its assignment and grant
// rows. Builtin roles are refused outright.
func (m *Mutator) DeleteRole(ctx context.Context, roleName string) error {
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if IsBuiltinRole(roleName) {
		return fmt.Errorf("%w: role %q is builtin", ErrProtected, roleName)
	}
	role, err := m.store.RoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("resolve role %q: %w", roleName, err)
	}
	return m.store.DeleteRole(ctx, role.ID)
}

// DeletePermission removes a custom permission, cascading its grant rows.
// Core permissions are refused outright.
func (m *Mutator) DeletePermission(ctx context.Context, permissionName string) error {
	permissionName = strings.TrimSpace(permissionName)
	if permissionName == "" {
		return fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	if IsCorePermission(permissionName) {
		return fmt.Errorf("%w: permission %q is core", ErrProtected, permissionName)
	}
	perm, err := m.store.PermissionByName(ctx, permissionName)
	if err != nil {
		return fmt.Errorf("resolve permission %q: %w", permissionName, err)
	}
	return m.store.DeletePermission(ctx, perm.ID)
}

func (m *Mutator) appendHistory(ctx context.Context, userID string, role Role, actor, action string) error {
	entry := HistoryEntry{
		ID:        ids.New(),
		UserID:    userID,
		RoleID:    role.ID,
		RoleName:  role.Name,
		Actor:     strings.TrimSpace(actor),
		Action:    action,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
