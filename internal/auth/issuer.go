package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const verificationTokenTTL = 24 * time.Hour

// Actors recorded for role changes not initiated by an administrator.
const (
	ActorRegistration = "system:registration"
	ActorFederation   = "system:federation"
)

// Session is an issued session: the signed token plus the claims it embeds.
type Session struct {
	Token     string        `json:"token"`
	Claims    SessionClaims `json:"claims"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Issuer performs primary authentication and mints claims-bearing session
// tokens. Each issued token gets a parallel session record for coarse
// revocation; per-request authorization never reads that record.
type Issuer struct {
	store    Store
	resolver *Resolver
	mutator  *Mutator
	codec    *TokenCodec
	now      func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(store Store, resolver *Resolver, mutator *Mutator, codec *TokenCodec, opts ...IssuerOption) (*Issuer, error) {
	if store == nil || resolver == nil || mutator == nil || codec == nil {
		return nil, errors.New("auth: issuer requires store, resolver, mutator and codec")
	}
	i := &Issuer{
		store:    store,
		resolver: resolver,
		mutator:  mutator,
		codec:    codec,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// EnsureBuiltins makes sure the core permission catalog and the builtin
// roles exist. On a fresh directory the admin role is seeded with every
// core permission. Safe to run on every startup.
func (i *Issuer) EnsureBuiltins(ctx context.Context) error {
	if err := i.store.EnsurePermissions(ctx, CorePermissions); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	for _, name := range []string{RoleAdmin, RoleUser} {
		if _, err := i.store.RoleByName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("look up role %q: %w", name, err)
		}
		if _, err := i.store.CreateRole(ctx, name, "builtin"); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("create role %q: %w", name, err)
		}
	}
	admin, err := i.store.RoleByName(ctx, RoleAdmin)
	if err != nil {
		return fmt.Errorf("look up admin role: %w", err)
	}
	existing, err := i.store.RolePermissions(ctx, admin.ID)
	if err != nil {
		return fmt.Errorf("read admin grants: %w", err)
	}
	// Seed the full core set on first boot only; later grant edits are
	// the administrator's to keep.
	if len(existing) == 0 {
		grants := make([]string, 0, len(CorePermissions))
		for _, p := range CorePermissions {
			grants = append(grants, p.Name)
		}
		if err := i.store.SetRolePermissions(ctx, admin.ID, grants); err != nil {
			return fmt.Errorf("grant admin permissions: %w", err)
		}
	}
	return nil
}

// Register creates a local-password account holding the builtin "user" role
// and returns the single-use email verification token. Delivery of that
// token is the caller's concern.
func (i *Issuer) Register(ctx context.Context, email, password, displayName string) (User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return User{}, "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, "", err
	}
	user, err := i.store.CreateUser(ctx, NewUser{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	})
	if err != nil {
		return User{}, "", err
	}
	if err := i.mutator.AssignRole(ctx, user.ID, RoleUser, ActorRegistration); err != nil {
		return User{}, "", err
	}
	token, err := randomToken()
	if err != nil {
		return User{}, "", err
	}
	expiresAt := i.now().UTC().Add(verificationTokenTTL)
	if err := i.store.CreateVerificationToken(ctx, user.ID, token, expiresAt); err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (i *Issuer) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	userID, err := i.store.ConsumeVerificationToken(ctx, token)
	if err != nil {
		return err
	}
	return i.store.MarkEmailVerified(ctx, userID)
}

// SignInWithPassword authenticates credentials and issues a session.
// An unverified email is reported distinctly from a credential mismatch so
// the caller can offer a resend action.
func (i *Issuer) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := i.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if user.PasswordHash == "" {
		// Federated-only account; no password to match.
		return Session{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return Session{}, ErrEmailNotVerified
	}
	return i.issue(ctx, user)
}

// SignInFederated resolves a provider-attested identity to a local account
// and issues a session. Linking rule: a known provider id refreshes the
// stored provider tokens; otherwise an email match links the identity to
// that account and marks it verified (the provider attests the address);
// otherwise a new pre-verified account is created holding the "user" role.
func (i *Issuer) SignInFederated(ctx context.Context, ident FederatedIdentity) (Session, error) {
	ident.Provider = strings.TrimSpace(strings.ToLower(ident.Provider))
	ident.ProviderID = strings.TrimSpace(ident.ProviderID)
	ident.Email = strings.TrimSpace(strings.ToLower(ident.Email))
	if ident.Provider == "" || ident.ProviderID == "" || ident.Email == "" {
		return Session{}, fmt.Errorf("%w: provider, provider id and email are required", ErrInvalidInput)
	}

	user, err := i.store.GetUserByProvider(ctx, ident.Provider, ident.ProviderID)
	switch {
	case err == nil:
		if err := i.store.UpdateFederatedTokens(ctx, user.ID, ident.AccessToken, ident.RefreshToken); err != nil {
			return Session{}, err
		}
	case errors.Is(err, ErrNotFound):
		user, err = i.linkOrCreate(ctx, ident)
		if err != nil {
			return Session{}, err
		}
	default:
		return Session{}, err
	}
	return i.issue(ctx, user)
}

func (i *Issuer) linkOrCreate(ctx context.Context, ident FederatedIdentity) (User, error) {
	existing, err := i.store.GetUserByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		if err := i.store.LinkFederatedIdentity(ctx, existing.ID, ident); err != nil {
			return User{}, err
		}
		if err := i.store.MarkEmailVerified(ctx, existing.ID); err != nil {
			return User{}, err
		}
		return i.store.GetUser(ctx, existing.ID)
	case errors.Is(err, ErrNotFound):
		user, err := i.store.CreateUser(ctx, NewUser{
			Email:         ident.Email,
			DisplayName:   strings.TrimSpace(ident.DisplayName),
			EmailVerified: true,
			Provider:      ident.Provider,
			ProviderID:    ident.ProviderID,
		})
		if err != nil {
			return User{}, err
		}
		if err := i.store.UpdateFederatedTokens(ctx, user.ID, ident.AccessToken, ident.RefreshToken); err != nil {
			return User{}, err
		}
		if err := i.mutator.AssignRole(ctx, user.ID, RoleUser, ActorFederation); err != nil {
			return User{}, err
		}
		return user, nil
	default:
		return User{}, err
	}
}

// SignOut deletes every session record for the user. Already-issued tokens
// remain cryptographically valid until expiry; the records are the coarse
// revocation surface.
func (i *Issuer) SignOut(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	_, err := i.store.DeleteUserSessions(ctx, userID)
	return err
}

// issue resolves the authorization snapshot, signs it, and writes the
// parallel session record. Resolver failures here are hard failures.
func (i *Issuer) issue(ctx context.Context, user User) (Session, error) {
	roles, perms, err := i.resolver.Snapshot(ctx, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve claims: %w", err)
	}
	claims := SessionClaims{
		DisplayName:   user.DisplayName,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Roles:         roles,
		Permissions:   perms,
		Provider:      user.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
		},
	}
	token, embedded, err := i.codec.Sign(claims)
	if err != nil {
		return Session{}, err
	}
	rec := SessionRecord{
		UserID:    user.ID,
		Token:     embedded.ID,
		ExpiresAt: embedded.ExpiresAt.Time,
		CreatedAt: i.now().UTC(),
	}
	if err := i.store.CreateSession(ctx, rec); err != nil {
		return Session{}, fmt.Errorf("write session record: %w", err)
	}
	return Session{Token: token, Claims: embedded, ExpiresAt: embedded.ExpiresAt.Time}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
