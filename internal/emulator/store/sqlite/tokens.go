package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) Create(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, uid, provider, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.UID, t.Provider, toMillis(t.ExpiresAt), boolInt(t.Revoked), toMillis(t.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                  domain.RefreshToken
		revoked            int
		expires, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, uid, provider, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.TokenHash, &t.UID, &t.Provider, &expires, &revoked, &createdAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.Revoked = revoked != 0
	t.ExpiresAt = fromMillis(expires)
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE uid = ?`, uid)
	return err
}

// DeleteExpired drops expired and revoked tokens.
func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ? OR revoked = 1`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type mfaSessionsRepo struct {
	db dbtx
}

func (r *mfaSessionsRepo) Create(ctx context.Context, s domain.MFASession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_sessions (id, uid, provider, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UID, s.Provider, s.Attempts, toMillis(s.ExpiresAt), toMillis(s.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *mfaSessionsRepo) Get(ctx context.Context, id string) (domain.MFASession, error) {
	var (
		s                  domain.MFASession
		expires, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, uid, provider, attempts, expires_at, created_at
		FROM mfa_sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UID, &s.Provider, &s.Attempts, &expires, &createdAt)
	if err != nil {
		return domain.MFASession{}, mapNotFound(err)
	}

	s.ExpiresAt = fromMillis(expires)
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

func (r *mfaSessionsRepo) IncrementAttempts(ctx context.Context, id string) (domain.MFASession, error) {
	err := requireAffected(r.db.ExecContext(ctx,
		`UPDATE mfa_sessions SET attempts = attempts + 1 WHERE id = ?`, id))
	if err != nil {
		return domain.MFASession{}, err
	}
	return r.Get(ctx, id)
}

func (r *mfaSessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_sessions WHERE id = ?`, id)
	return err
}

func (r *mfaSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_sessions WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
