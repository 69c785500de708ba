package auth

import (
	"context"
	"errors"
	"fmt"
)

// ClaimsPatch is a partial claims update. Nil fields are left as issued.
// RefreshAuthorization opts into re-resolving roles and permissions; a
// plain patch never touches them.
type ClaimsPatch struct {
	DisplayName          *string
	Email                *string
	RefreshAuthorization bool
}

// Refresh re-signs an existing session with the supplied fields applied,
// without re-authentication. The original expiry is preserved: a refresh
// updates the snapshot, it does not extend the session.
//
// Roles and permissions stay as cached at issuance unless the patch asks
// for an elevated refresh. A user whose roles were revoked mid-session
// therefore keeps the old grants in the token until it expires or they
// sign in again; that staleness is the price of checking claims instead of
// the store on every request. The mutator's invalidation hook is the seam
// for deployments that want to force re-authentication earlier.
func (i *Issuer) Refresh(ctx context.Context, token string, patch ClaimsPatch) (Session, error) {
	claims, err := i.codec.Parse(token)
	if err != nil {
		return Session{}, err
	}
	previousRecord := claims.ID

	if patch.DisplayName != nil {
		claims.DisplayName = *patch.DisplayName
	}
	if patch.Email != nil {
		claims.Email = *patch.Email
	}
	if patch.RefreshAuthorization {
		roles, perms, err := i.resolver.Snapshot(ctx, claims.Subject)
		if err != nil {
			return Session{}, fmt.Errorf("resolve claims: %w", err)
		}
		claims.Roles = roles
		claims.Permissions = perms
	}

	signed, embedded, err := i.codec.Sign(*claims)
	if err != nil {
		return Session{}, err
	}
	// Retire the superseded record before writing the replacement. A record
	// that is already gone means the session was revoked (sign-out, account
	// deletion); refusing here keeps revocation from being undone by a
	// refresh.
	if err := i.store.DeleteSession(ctx, previousRecord); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, fmt.Errorf("%w: session revoked", ErrInvalidToken)
		}
		return Session{}, fmt.Errorf("retire session record: %w", err)
	}
	rec := SessionRecord{
		UserID:    embedded.Subject,
		Token:     embedded.ID,
		ExpiresAt: embedded.ExpiresAt.Time,
		CreatedAt: i.now().UTC(),
	}
	if err := i.store.CreateSession(ctx, rec); err != nil {
		return Session{}, fmt.Errorf("write session record: %w", err)
	}
	return Session{Token: signed, Claims: embedded, ExpiresAt: embedded.ExpiresAt.Time}, nil
}
