package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when the registry holds no record for a jti.
var ErrNotFound = errors.New("refresh token not found")

// RefreshRecord is the registry row for one issued refresh token.
type RefreshRecord struct {
	JTI        string     `db:"jti"`
	IdentityID int64      `db:"identity_id"`
	Subject    string     `db:"subject"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Revoked reports whether the record was revoked.
func (r *RefreshRecord) Revoked() bool { return r.RevokedAt != nil }

type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

// EnsureTable creates auth_refresh_tokens if not exists.
func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS auth_refresh_tokens (
  jti TEXT PRIMARY KEY,
  identity_id BIGINT NOT NULL,
  subject TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_auth_refresh_tokens_subject ON auth_refresh_tokens(subject);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *RefreshRepo) Save(ctx context.Context, rec *RefreshRecord) error {
	query := `INSERT INTO auth_refresh_tokens (jti, identity_id, subject, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, rec.JTI, rec.IdentityID, rec.Subject, rec.ExpiresAt, rec.CreatedAt)
	return err
}

func (r *RefreshRepo) Get(ctx context.Context, jti string) (*RefreshRecord, error) {
	var rec RefreshRecord
	query := `SELECT jti, identity_id, subject, expires_at, revoked_at, created_at FROM auth_refresh_tokens WHERE jti = $1`
	if err := r.db.GetContext(ctx, &rec, query, jti); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Revoke marks one record revoked. Revoking twice is a no-op.
func (r *RefreshRepo) Revoke(ctx context.Context, jti string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE auth_refresh_tokens SET revoked_at = $2 WHERE jti = $1 AND revoked_at IS NULL`, jti, at)
	return err
}

// RevokeSubject revokes every live record of a subject and returns how many were touched.
func (r *RefreshRepo) RevokeSubject(ctx context.Context, subject string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE auth_refresh_tokens SET revoked_at = $2 WHERE subject = $1 AND revoked_at IS NULL`, subject, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired purges records whose expiry is before the cutoff.
func (r *RefreshRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM auth_refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
