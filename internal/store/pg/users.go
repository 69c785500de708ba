package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/ids"
)

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	var (
		user       auth.User
		provider   sql.NullString
		providerID sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, display_name, password_hash, email_verified, provider, provider_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id, email, display_name, coalesce(password_hash,''), email_verified, provider, provider_id, created_at, updated_at
	`, ids.New(), strings.ToLower(nu.Email), nu.DisplayName, nullIfEmpty(nu.PasswordHash), nu.EmailVerified, nullIfEmpty(nu.Provider), nullIfEmpty(nu.ProviderID))
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.EmailVerified, &provider, &providerID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	if provider.Valid {
		user.Provider = provider.String
	}
	if providerID.Valid {
		user.ProviderID = providerID.String
	}
	return user, nil
}

const userColumns = `id, email, display_name, coalesce(password_hash,''), email_verified, provider, provider_id, created_at, updated_at`

func (s *Store) scanUser(row *sql.Row) (auth.User, error) {
	var (
		user       auth.User
		provider   sql.NullString
		providerID sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.EmailVerified, &provider, &providerID, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	if provider.Valid {
		user.Provider = provider.String
	}
	if providerID.Valid {
		user.ProviderID = providerID.String
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, userID))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where email = $1
	`, strings.ToLower(email)))
}

func (s *Store) GetUserByProvider(ctx context.Context, provider, providerID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where provider = $1 and provider_id = $2
	`, provider, providerID))
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd auth.ProfileUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *upd.DisplayName)
		idx++
	}
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, strings.ToLower(*upd.Email))
		idx++
	}
	if upd.Password != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, userID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.User{}, auth.ErrConflict
			}
			return auth.User{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.User{}, err
		}
		if aff == 0 {
			return auth.User{}, auth.ErrNotFound
		}
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) LinkFederatedIdentity(ctx context.Context, userID string, ident auth.FederatedIdentity) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set provider = $2, provider_id = $3, access_token = nullif($4,''), refresh_token = nullif($5,''), updated_at = now()
		where id = $1
	`, userID, ident.Provider, ident.ProviderID, ident.AccessToken, ident.RefreshToken)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateFederatedTokens(ctx context.Context, userID, accessToken, refreshToken string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set access_token = nullif($2,''),
		    refresh_token = coalesce(nullif($3,''), refresh_token),
		    updated_at = now()
		where id = $1
	`, userID, accessToken, refreshToken)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users set email_verified = true, updated_at = now() where id = $1
	`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the user together with sessions, assignments,
// history, verification tokens and tickets in one transaction.
func (s *Store) DeleteAccount(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`delete from sessions where user_id = $1`,
		`delete from user_roles where user_id = $1`,
		`delete from role_assignment_history where user_id = $1`,
		`delete from verification_tokens where user_id = $1`,
		`delete from tickets where author_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CreateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into verification_tokens (token, user_id, expires_at)
		values ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, token string) (string, error) {
	if s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var userID string
	err := s.db.QueryRowContext(ctx, `
		delete from verification_tokens
		where token = $1 and expires_at > now()
		returning user_id
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
