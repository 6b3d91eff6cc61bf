package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `uid, email, email_verified, password_hash, display_name, photo_url,
	phone_number, tenant_id, disabled, email_link_signin,
	mfa_enrollment_id, mfa_display_name, mfa_secret, mfa_enrolled_at,
	valid_since, created_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                              domain.Account
		email, phone, mfaID, mfaSecret sql.NullString
		verified, disabled, emailLink  int
		mfaEnrolledAt                  sql.NullInt64
		mfaName                        string
		validSince, created, lastLogin int64
	)
	err := row.Scan(
		&a.UID, &email, &verified, &a.PasswordHash, &a.DisplayName, &a.PhotoURL,
		&phone, &a.TenantID, &disabled, &emailLink,
		&mfaID, &mfaName, &mfaSecret, &mfaEnrolledAt,
		&validSince, &created, &lastLogin,
	)
	if err != nil {
		return domain.Account{}, err
	}

	a.Email = mapNullString(email)
	a.PhoneNumber = mapNullString(phone)
	a.EmailVerified = verified != 0
	a.Disabled = disabled != 0
	a.EmailLinkSignIn = emailLink != 0
	a.ValidSince = fromMillis(validSince)
	a.CreatedAt = fromMillis(created)
	a.LastLoginAt = fromMillis(lastLogin)

	if mfaID.Valid {
		a.MFA = &domain.TOTPEnrollment{
			EnrollmentID: mfaID.String,
			DisplayName:  mfaName,
			Secret:       mapNullString(mfaSecret),
			EnrolledAt:   fromMillis(mfaEnrolledAt.Int64),
		}
	}
	return a, nil
}

// mfaColumns flattens an optional enrollment into its column values.
func mfaColumns(m *domain.TOTPEnrollment) (id sql.NullString, name string, secret sql.NullString, enrolledAt sql.NullInt64) {
	if m == nil {
		return
	}
	return mapStringNull(m.EnrollmentID), m.DisplayName, mapStringNull(m.Secret),
		sql.NullInt64{Int64: toMillis(m.EnrolledAt), Valid: true}
}

func (r *accountsRepo) Create(ctx context.Context, a domain.Account) error {
	mfaID, mfaName, mfaSecret, mfaAt := mfaColumns(a.MFA)

	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UID, mapStringNull(strings.ToLower(a.Email)), boolInt(a.EmailVerified), a.PasswordHash,
		a.DisplayName, a.PhotoURL, mapStringNull(a.PhoneNumber), a.TenantID,
		boolInt(a.Disabled), boolInt(a.EmailLinkSignIn),
		mfaID, mfaName, mfaSecret, mfaAt,
		toMillis(a.ValidSince), toMillis(a.CreatedAt), toMillis(a.LastLoginAt),
	)
	if err != nil {
		return mapConstraint(err)
	}

	for _, p := range a.Providers {
		p.UID = a.UID
		if err := r.LinkProvider(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *accountsRepo) get(ctx context.Context, where string, arg any) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)
	a, err := scanAccount(row)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.Providers, err = r.providers(ctx, a.UID)
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func (r *accountsRepo) providers(ctx context.Context, uid string) ([]domain.ProviderLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider_id, federated_id, uid, email, display_name, photo_url
		FROM provider_links WHERE uid = ? ORDER BY provider_id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderLink
	for rows.Next() {
		var p domain.ProviderLink
		if err := rows.Scan(&p.ProviderID, &p.FederatedID, &p.UID, &p.Email, &p.DisplayName, &p.PhotoURL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *accountsRepo) Get(ctx context.Context, uid string) (domain.Account, error) {
	return r.get(ctx, `uid = ?`, uid)
}

func (r *accountsRepo) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	return r.get(ctx, `email = ?`, strings.ToLower(email))
}

func (r *accountsRepo) GetByPhone(ctx context.Context, phone string) (domain.Account, error) {
	return r.get(ctx, `phone_number = ?`, phone)
}

func (r *accountsRepo) GetByProvider(ctx context.Context, providerID, federatedID string) (domain.Account, error) {
	var uid string
	err := r.db.QueryRowContext(ctx, `
		SELECT uid FROM provider_links WHERE provider_id = ? AND federated_id = ?`,
		providerID, federatedID,
	).Scan(&uid)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	return r.Get(ctx, uid)
}

func (r *accountsRepo) Update(ctx context.Context, a domain.Account) error {
	mfaID, mfaName, mfaSecret, mfaAt := mfaColumns(a.MFA)

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			email = ?, email_verified = ?, password_hash = ?, display_name = ?, photo_url = ?,
			phone_number = ?, tenant_id = ?, disabled = ?, email_link_signin = ?,
			mfa_enrollment_id = ?, mfa_display_name = ?, mfa_secret = ?, mfa_enrolled_at = ?,
			valid_since = ?, last_login_at = ?
		WHERE uid = ?`,
		mapStringNull(strings.ToLower(a.Email)), boolInt(a.EmailVerified), a.PasswordHash,
		a.DisplayName, a.PhotoURL, mapStringNull(a.PhoneNumber), a.TenantID,
		boolInt(a.Disabled), boolInt(a.EmailLinkSignIn),
		mfaID, mfaName, mfaSecret, mfaAt,
		toMillis(a.ValidSince), toMillis(a.LastLoginAt),
		a.UID,
	)
	return requireAffected(res, mapConstraint(err))
}

// Delete removes the account with its links and sessions. The dependent rows
// are deleted explicitly so a DSN without foreign_keys(1) behaves the same.
func (r *accountsRepo) Delete(ctx context.Context, uid string) error {
	for _, q := range []string{
		`DELETE FROM provider_links WHERE uid = ?`,
		`DELETE FROM refresh_tokens WHERE uid = ?`,
		`DELETE FROM mfa_sessions WHERE uid = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, q, uid); err != nil {
			return err
		}
	}
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM accounts WHERE uid = ?`, uid))
}

func (r *accountsRepo) LinkProvider(ctx context.Context, p domain.ProviderLink) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_links (provider_id, federated_id, uid, email, display_name, photo_url)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ProviderID, p.FederatedID, p.UID, strings.ToLower(p.Email), p.DisplayName, p.PhotoURL,
	)
	return mapConstraint(err)
}

func (r *accountsRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}
