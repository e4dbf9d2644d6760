package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var (
	// ErrNotFound is returned when no identity matches the lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicateEmail is returned when an insert hits the unique email constraint.
	ErrDuplicateEmail = errors.New("identity email already exists")
)

// postgres unique_violation
const uniqueViolation = "23505"

const identityColumns = `id, email, username, password_hash, first_name, last_name, role, active,
	provider, provider_subject_id, email_verified, last_login_at, created_at, updated_at`

// IdentityRepo provides data access for the identities table using sqlx.
type IdentityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo { return &IdentityRepo{db: db} }

// EnsureTable creates the identities table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *IdentityRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS identities (
  id BIGINT PRIMARY KEY,
  email CITEXT NOT NULL UNIQUE,
  username TEXT NOT NULL,
  password_hash TEXT,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'ROLE_USER',
  active BOOLEAN NOT NULL DEFAULT true,
  provider TEXT NOT NULL DEFAULT 'LOCAL',
  provider_subject_id TEXT,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_identities_provider ON identities(provider, provider_subject_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new identity. An id is generated when the caller left it zero.
// A unique email violation is reported as ErrDuplicateEmail.
func (r *IdentityRepo) Create(ctx context.Context, i *entity.Identity) (int64, error) {
	if i.ID == 0 {
		i.ID = utilities.NewSnowflakeID()
	}
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	const q = `INSERT INTO identities (id, email, username, password_hash, first_name, last_name, role, active,
		provider, provider_subject_id, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.ExecContext(ctx, q,
		i.ID, i.Email, i.Username, i.PasswordHash, i.FirstName, i.LastName, string(i.Role), i.Active,
		string(i.Provider), i.ProviderSubjectID, i.EmailVerified, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	return i.ID, nil
}

// GetByEmail returns an identity matched by email (case-insensitive due to citext) or ErrNotFound.
func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	q := `SELECT ` + identityColumns + ` FROM identities WHERE email=$1`
	return r.get(ctx, q, email)
}

func (r *IdentityRepo) get(ctx context.Context, q string, arg any) (*entity.Identity, error) {
	var row entity.Identity
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// UpdateProfile persists display-name fields, the provider subject and the updated_at bump.
func (r *IdentityRepo) UpdateProfile(ctx context.Context, i *entity.Identity) error {
	const q = `UPDATE identities SET first_name=$2, last_name=$3, provider_subject_id=$4, updated_at=$5 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, i.ID, i.FirstName, i.LastName, i.ProviderSubjectID, i.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful local sign-in.
func (r *IdentityRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE identities SET last_login_at=$2, updated_at=$2 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

// SetActive flips the active flag (deactivation is a flag flip, never a delete).
func (r *IdentityRepo) SetActive(ctx context.Context, id int64, active bool) error {
	const q = `UPDATE identities SET active=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole replaces the single role of an identity.
func (r *IdentityRepo) SetRole(ctx context.Context, id int64, role entity.Role) error {
	const q = `UPDATE identities SET role=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, string(role))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
