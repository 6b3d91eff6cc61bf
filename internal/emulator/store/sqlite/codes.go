package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
)

type oobCodesRepo struct {
	db dbtx
}

const oobColumns = `code, request_type, email, uid, link, expires_at, created_at`

func scanOOBCode(row rowScanner) (domain.OOBCode, error) {
	var (
		c                  domain.OOBCode
		expires, createdAt int64
	)
	if err := row.Scan(&c.Code, &c.RequestType, &c.Email, &c.UID, &c.Link, &expires, &createdAt); err != nil {
		return domain.OOBCode{}, err
	}
	c.ExpiresAt = fromMillis(expires)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (r *oobCodesRepo) Create(ctx context.Context, c domain.OOBCode) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO oob_codes (`+oobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.RequestType, strings.ToLower(c.Email), c.UID, c.Link, toMillis(c.ExpiresAt), toMillis(c.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *oobCodesRepo) Get(ctx context.Context, code string) (domain.OOBCode, error) {
	c, err := scanOOBCode(r.db.QueryRowContext(ctx,
		`SELECT `+oobColumns+` FROM oob_codes WHERE code = ?`, code))
	if err != nil {
		return domain.OOBCode{}, mapNotFound(err)
	}
	return c, nil
}

func (r *oobCodesRepo) Delete(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oob_codes WHERE code = ?`, code)
	return err
}

func (r *oobCodesRepo) List(ctx context.Context, email string) ([]domain.OOBCode, error) {
	query := `SELECT ` + oobColumns + ` FROM oob_codes`
	var args []any
	if email != "" {
		query += ` WHERE email = ?`
		args = append(args, strings.ToLower(email))
	}
	query += ` ORDER BY created_at DESC, code`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OOBCode
	for rows.Next() {
		c, err := scanOOBCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *oobCodesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oob_codes WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type phoneSessionsRepo struct {
	db dbtx
}

const phoneColumns = `session_info, phone_number, code, expires_at, created_at`

func scanPhoneSession(row rowScanner) (domain.PhoneSession, error) {
	var (
		s                  domain.PhoneSession
		expires, createdAt int64
	)
	if err := row.Scan(&s.SessionInfo, &s.PhoneNumber, &s.Code, &expires, &createdAt); err != nil {
		return domain.PhoneSession{}, err
	}
	s.ExpiresAt = fromMillis(expires)
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

func (r *phoneSessionsRepo) Create(ctx context.Context, s domain.PhoneSession) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO phone_sessions (`+phoneColumns+`) VALUES (?, ?, ?, ?, ?)`,
		s.SessionInfo, s.PhoneNumber, s.Code, toMillis(s.ExpiresAt), toMillis(s.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *phoneSessionsRepo) Get(ctx context.Context, sessionInfo string) (domain.PhoneSession, error) {
	s, err := scanPhoneSession(r.db.QueryRowContext(ctx,
		`SELECT `+phoneColumns+` FROM phone_sessions WHERE session_info = ?`, sessionInfo))
	if err != nil {
		return domain.PhoneSession{}, mapNotFound(err)
	}
	return s, nil
}

func (r *phoneSessionsRepo) Delete(ctx context.Context, sessionInfo string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM phone_sessions WHERE session_info = ?`, sessionInfo)
	return err
}

func (r *phoneSessionsRepo) List(ctx context.Context) ([]domain.PhoneSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phoneColumns+` FROM phone_sessions ORDER BY created_at DESC, session_info`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PhoneSession
	for rows.Next() {
		s, err := scanPhoneSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *phoneSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM phone_sessions WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
