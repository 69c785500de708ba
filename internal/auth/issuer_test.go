package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func newTestIssuer(t *testing.T) (*Issuer, *InMemory) {
	t.Helper()
	store := NewInMemory()
	codec := newTestCodec(t)
	resolver := NewResolver(store)
	mutator := NewMutator(store)
	issuer, err := NewIssuer(store, resolver, mutator, codec)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if err := issuer.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return issuer, store
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	issuer, store := newTestIssuer(t)
	ctx := context.Background()

	if err := issuer.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}
	admin, err := store.RoleByName(ctx, RoleAdmin)
	if err != nil {
		t.Fatalf("admin role missing: %v", err)
	}
	perms, err := store.RolePermissions(ctx, admin.ID)
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(perms) != len(CorePermissions) {
		t.Fatalf("admin should hold all %d core permissions, has %d", len(CorePermissions), len(perms))
	}
	if _, err := store.RoleByName(ctx, RoleUser); err != nil {
		t.Fatalf("user role missing: %v", err)
	}
}

func TestRegisterAndVerifyFlow(t *testing.T) {
	issuer, store := newTestIssuer(t)
	ctx := context.Background()

	user, token, err := issuer.Register(ctx, "Carol@Example.com", "hunter2hunter2", "Carol")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.EmailVerified {
		t.Fatal("fresh local account must be unverified")
	}
	roles, _ := store.UserRoles(ctx, user.ID)
	if !slices.Contains(roles, RoleUser) {
		t.Fatalf("registration must grant the user role, got %v", roles)
	}

	// Unverified sign-in is refused distinctly.
	if _, err := issuer.SignInWithPassword(ctx, "carol@example.com", "hunter2hunter2"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	if err := issuer.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	// A verification token is single use.
	if err := issuer.VerifyEmail(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}

	session, err := issuer.SignInWithPassword(ctx, "carol@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if session.Claims.Subject != user.ID {
		t.Fatalf("unexpected subject: %s", session.Claims.Subject)
	}
	if !slices.Contains(session.Claims.Roles, RoleUser) {
		t.Fatalf("claims must embed the role snapshot, got %v", session.Claims.Roles)
	}
	if store.SessionCount(user.ID) != 1 {
		t.Fatalf("expected one session record, got %d", store.SessionCount(user.ID))
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	if _, err := issuer.SignInWithPassword(ctx, "ghost@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}

	_, token, err := issuer.Register(ctx, "dave@example.com", "correct-horse", "Dave")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := issuer.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if _, err := issuer.SignInWithPassword(ctx, "dave@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	if _, _, err := issuer.Register(ctx, "erin@example.com", "pw-one-two", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := issuer.Register(ctx, "erin@example.com", "pw-one-two", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFederatedSignInLinkingRules(t *testing.T) {
	issuer, store := newTestIssuer(t)
	ctx := context.Background()

	// Unknown provider id, unknown email: creates a pre-verified account.
	first, err := issuer.SignInFederated(ctx, FederatedIdentity{
		Provider: "google", ProviderID: "g-1", Email: "frank@example.com",
		DisplayName: "Frank", AccessToken: "at-1", RefreshToken: "rt-1",
	})
	if err != nil {
		t.Fatalf("SignInFederated (create): %v", err)
	}
	user, err := store.GetUser(ctx, first.Claims.Subject)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.EmailVerified {
		t.Fatal("federated account must be created verified")
	}
	roles, _ := store.UserRoles(ctx, user.ID)
	if !slices.Contains(roles, RoleUser) {
		t.Fatalf("federated creation must grant the user role, got %v", roles)
	}

	// Same provider id again: same account, refreshed tokens.
	second, err := issuer.SignInFederated(ctx, FederatedIdentity{
		Provider: "google", ProviderID: "g-1", Email: "frank@example.com", AccessToken: "at-2",
	})
	if err != nil {
		t.Fatalf("SignInFederated (repeat): %v", err)
	}
	if second.Claims.Subject != first.Claims.Subject {
		t.Fatal("provider id match must resolve to the same account")
	}

	// Email match on an existing local account: links and verifies it.
	local, _, err := issuer.Register(ctx, "grace@example.com", "local-pass-1", "Grace")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	linked, err := issuer.SignInFederated(ctx, FederatedIdentity{
		Provider: "google", ProviderID: "g-2", Email: "grace@example.com",
	})
	if err != nil {
		t.Fatalf("SignInFederated (link): %v", err)
	}
	if linked.Claims.Subject != local.ID {
		t.Fatal("email match must link to the existing account")
	}
	relinked, err := store.GetUser(ctx, local.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !relinked.EmailVerified || relinked.Provider != "google" || relinked.ProviderID != "g-2" {
		t.Fatalf("linking must verify and attach the identity: %+v", relinked)
	}
}

func TestSignOutRevokesAllSessions(t *testing.T) {
	issuer, store := newTestIssuer(t)
	ctx := context.Background()

	_, token, err := issuer.Register(ctx, "heidi@example.com", "pw-333-444", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := issuer.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	var userID string
	for i := 0; i < 3; i++ {
		s, err := issuer.SignInWithPassword(ctx, "heidi@example.com", "pw-333-444")
		if err != nil {
			t.Fatalf("SignInWithPassword: %v", err)
		}
		userID = s.Claims.Subject
	}
	if store.SessionCount(userID) != 3 {
		t.Fatalf("expected 3 session records, got %d", store.SessionCount(userID))
	}
	if err := issuer.SignOut(ctx, userID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if store.SessionCount(userID) != 0 {
		t.Fatalf("expected 0 session records after sign-out, got %d", store.SessionCount(userID))
	}
}
