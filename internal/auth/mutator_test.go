package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestAssignRoleAppendsHistoryOnNoop(t *testing.T) {
	store, userID := seedDirectory(t)
	m := NewMutator(store)
	ctx := context.Background()

	if err := m.AssignRole(ctx, userID, "support", "admin-1"); err != nil {
		t.Fatalf("AssignRole (already held): %v", err)
	}
	entries, err := store.ListHistory(ctx, userID, 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("redundant assign must still be recorded, got %d entries", len(entries))
	}
	if entries[0].Action != HistoryAssign || entries[0].Actor != "admin-1" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestRemoveRoleNeverHeldStillRecorded(t *testing.T) {
	store, userID := seedDirectory(t)
	m := NewMutator(store)
	ctx := context.Background()

	if _, err := store.CreateRole(ctx, "billing", ""); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := m.RemoveRole(ctx, userID, "billing", "admin-1"); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	roles, _ := store.UserRoles(ctx, userID)
	if !slices.Contains(roles, "support") {
		t.Fatalf("membership must be untouched, got %v", roles)
	}
	entries, _ := store.ListHistory(ctx, userID, 10)
	if len(entries) != 1 || entries[0].Action != HistoryRemove {
		t.Fatalf("expected a remove entry, got %+v", entries)
	}
}

func TestAssignUnknownRoleFails(t *testing.T) {
	store, userID := seedDirectory(t)
	m := NewMutator(store)

	err := m.AssignRole(context.Background(), userID, "no-such-role", "admin-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	entries, _ := store.ListHistory(context.Background(), userID, 10)
	if len(entries) != 0 {
		t.Fatalf("failed mutation must not be recorded, got %+v", entries)
	}
}

func TestReplaceRolesTouchesOnlyDifference(t *testing.T) {
	store, userID := seedDirectory(t)
	ctx := context.Background()
	if _, err := store.CreateRole(ctx, "billing", ""); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	var invalidated []string
	m := NewMutator(store, WithInvalidator(InvalidatorFunc(func(_ context.Context, id string) error {
		invalidated = append(invalidated, id)
		return nil
	})))

	// support -> billing: one remove, one assign.
	if err := m.ReplaceRoles(ctx, userID, []string{"billing"}, "admin-1"); err != nil {
		t.Fatalf("ReplaceRoles: %v", err)
	}
	roles, _ := store.UserRoles(ctx, userID)
	if !slices.Equal(roles, []string{"billing"}) {
		t.Fatalf("unexpected roles: %v", roles)
	}
	entries, _ := store.ListHistory(ctx, userID, 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	if len(invalidated) != 1 || invalidated[0] != userID {
		t.Fatalf("expected one invalidation, got %v", invalidated)
	}

	// Identical set: a pure no-op, no history, no invalidation.
	if err := m.ReplaceRoles(ctx, userID, []string{"billing", "Billing"}, "admin-1"); err != nil {
		t.Fatalf("ReplaceRoles (no-op): %v", err)
	}
	entries, _ = store.ListHistory(ctx, userID, 10)
	if len(entries) != 2 {
		t.Fatalf("no-op replace must not record history, got %d", len(entries))
	}
	if len(invalidated) != 1 {
		t.Fatalf("no-op replace must not invalidate, got %v", invalidated)
	}
}

func TestReplaceRolesUnknownRoleFailsWhole(t *testing.T) {
	store, userID := seedDirectory(t)
	m := NewMutator(store)

	err := m.ReplaceRoles(context.Background(), userID, []string{"ghost"}, "admin-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	roles, _ := store.UserRoles(context.Background(), userID)
	if !slices.Contains(roles, "support") {
		t.Fatalf("failed replace must leave membership intact, got %v", roles)
	}
}

func TestDeleteRoleProtectsBuiltins(t *testing.T) {
	store, _ := seedDirectory(t)
	ctx := context.Background()
	for _, name := range []string{RoleAdmin, RoleUser} {
		if _, err := store.CreateRole(ctx, name, "builtin"); err != nil {
			t.Fatalf("CreateRole(%s): %v", name, err)
		}
	}
	m := NewMutator(store)

	if err := m.DeleteRole(ctx, "admin"); !errors.Is(err, ErrProtected) {
		t.Fatalf("expected ErrProtected for builtin role, got %v", err)
	}
	if err := m.DeleteRole(ctx, "support"); err != nil {
		t.Fatalf("DeleteRole(support): %v", err)
	}
	if _, err := store.RoleByName(ctx, "support"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("role should be gone, got %v", err)
	}
}

func TestDeletePermissionProtectsCore(t *testing.T) {
	store, _ := seedDirectory(t)
	ctx := context.Background()
	m := NewMutator(store)

	if err := m.DeletePermission(ctx, PermManageUsers); !errors.Is(err, ErrProtected) {
		t.Fatalf("expected ErrProtected for core permission, got %v", err)
	}

	if err := store.EnsurePermissions(ctx, []Permission{{Name: "export:reports"}}); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	if err := m.DeletePermission(ctx, "export:reports"); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}
	if _, err := store.PermissionByName(ctx, "export:reports"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("permission should be gone, got %v", err)
	}
}
