package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type failingAuthzStore struct{}

var errStoreDown = errors.New("store down")

func (failingAuthzStore) UserRoles(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}
func (failingAuthzStore) UserPermissions(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}
func (failingAuthzStore) UserHasRole(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}
func (failingAuthzStore) UserHasPermission(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}

func seedDirectory(t *testing.T) (*InMemory, string) {
	t.Helper()
	ctx := context.Background()
	store := NewInMemory()
	if err := store.EnsurePermissions(ctx, CorePermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	support, err := store.CreateRole(ctx, "support", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := store.SetRolePermissions(ctx, support.ID, []string{PermManageTickets}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	user, err := store.CreateUser(ctx, NewUser{Email: "bob@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.AddAssignment(ctx, user.ID, support.ID); err != nil {
		t.Fatalf("AddAssignment: %v", err)
	}
	return store, user.ID
}

func TestResolverReadsCurrentState(t *testing.T) {
	store, userID := seedDirectory(t)
	r := NewResolver(store)
	ctx := context.Background()

	if roles := r.Roles(ctx, userID); !slices.Contains(roles, "support") {
		t.Fatalf("expected support role, got %v", roles)
	}
	if perms := r.Permissions(ctx, userID); !slices.Contains(perms, PermManageTickets) {
		t.Fatalf("expected %s, got %v", PermManageTickets, perms)
	}
	if !r.HasRole(ctx, userID, "Support") {
		t.Fatal("HasRole should normalize case")
	}
	if r.HasPermission(ctx, userID, PermManageUsers) {
		t.Fatal("unexpected permission")
	}
}

func TestPermissionsUnionOverlappingRoles(t *testing.T) {
	store, userID := seedDirectory(t)
	r := NewResolver(store)
	ctx := context.Background()

	// A second role granting an overlapping permission set. The resolved
	// set is the union over roles, with each permission appearing once.
	billing, err := store.CreateRole(ctx, "billing", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := store.SetRolePermissions(ctx, billing.ID, []string{PermManageTickets, PermReadAuditLog}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if _, err := store.AddAssignment(ctx, userID, billing.ID); err != nil {
		t.Fatalf("AddAssignment: %v", err)
	}

	perms := r.Permissions(ctx, userID)
	shared := 0
	for _, p := range perms {
		if p == PermManageTickets {
			shared++
		}
	}
	if shared != 1 {
		t.Fatalf("permission granted by both roles must appear once, got %d in %v", shared, perms)
	}
	if !slices.Contains(perms, PermReadAuditLog) {
		t.Fatalf("expected %s from the second role, got %v", PermReadAuditLog, perms)
	}
}

func TestResolverFailsClosed(t *testing.T) {
	r := NewResolver(failingAuthzStore{})
	ctx := context.Background()

	if roles := r.Roles(ctx, "u1"); roles != nil {
		t.Fatalf("expected empty roles on store failure, got %v", roles)
	}
	if perms := r.Permissions(ctx, "u1"); perms != nil {
		t.Fatalf("expected empty permissions on store failure, got %v", perms)
	}
	if r.HasRole(ctx, "u1", "admin") {
		t.Fatal("HasRole must deny on store failure")
	}
	if r.HasPermission(ctx, "u1", PermManageUsers) {
		t.Fatal("HasPermission must deny on store failure")
	}
}

func TestSnapshotPropagatesErrors(t *testing.T) {
	r := NewResolver(failingAuthzStore{})
	if _, _, err := r.Snapshot(context.Background(), "u1"); !errors.Is(err, errStoreDown) {
		t.Fatalf("Snapshot must surface store errors, got %v", err)
	}

	store, userID := seedDirectory(t)
	roles, perms, err := NewResolver(store).Snapshot(context.Background(), userID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !slices.Contains(roles, "support") || !slices.Contains(perms, PermManageTickets) {
		t.Fatalf("unexpected snapshot: roles=%v perms=%v", roles, perms)
	}
}

func TestDecide(t *testing.T) {
	claims := &SessionClaims{
		Roles:       []string{"support"},
		Permissions: []string{PermManageTickets},
	}
	claims.Subject = "u1"

	if d := Decide(nil, Authenticated()); d != DenyUnauthenticated {
		t.Fatalf("nil claims: got %v", d)
	}
	if d := Decide(claims, Authenticated()); d != Allow {
		t.Fatalf("authenticated: got %v", d)
	}
	if d := Decide(claims, RoleCapability("support")); d != Allow {
		t.Fatalf("held role: got %v", d)
	}
	if d := Decide(claims, RoleCapability("admin")); d != DenyForbidden {
		t.Fatalf("missing role: got %v", d)
	}
	if d := Decide(claims, PermissionCapability(PermManageTickets)); d != Allow {
		t.Fatalf("held permission: got %v", d)
	}
	if d := Decide(claims, PermissionCapability(PermManageUsers)); d != DenyForbidden {
		t.Fatalf("missing permission: got %v", d)
	}
}
