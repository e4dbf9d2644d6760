package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the persistence surface the identity flows need.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*entity.Identity, error)
	Create(ctx context.Context, i *entity.Identity) (int64, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetRole(ctx context.Context, id int64, role entity.Role) error
}

var (
	ErrBadCredentials = errors.New("invalid credentials")
	ErrEmailTaken     = errors.New("email is already in use")
	ErrInvalidSignup  = errors.New("invalid signup request")
	ErrUnknownRole    = errors.New("unknown role")
)

const minPasswordLen = 6

// Service orchestrates local login and registration.
type Service struct {
	store  Store
	hasher PasswordHasher
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(store Store, hasher PasswordHasher, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, hasher: hasher, logger: logger, now: time.Now}
}

// Authenticate checks an email/password pair. Every credential problem, including an
// unknown email, a federation-only account or a disabled account, is ErrBadCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*entity.Identity, error) {
	email = entity.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	i, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if i.PasswordHash == nil || *i.PasswordHash == "" {
		return nil, ErrBadCredentials
	}
	if !s.hasher.Verify(*i.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	if !i.Active {
		return nil, ErrBadCredentials
	}
	at := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, i.ID, at); err != nil {
		s.logger.Warnw("touch last login failed", "id", i.ID, "err", err)
	} else {
		i.LastLoginAt = &at
	}
	return i, nil
}

// SignupInput carries a registration request.
type SignupInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
}

func (in SignupInput) validate() error {
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != strings.TrimSpace(in.Email) {
		return fmt.Errorf("%w: email is not valid", ErrInvalidSignup)
	}
	if len(in.Password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignup, minPasswordLen)
	}
	return nil
}

// Signup registers a local identity. The role is always USER; requested roles are ignored.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*entity.Identity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	email := entity.NormalizeEmail(in.Email)
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	for _, r := range in.Roles {
		if role, ok := entity.ParseRole(r); ok && role != entity.RoleUser {
			s.logger.Infow("ignoring requested role on signup", "email", email, "role", role)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email
	}
	now := s.now().UTC()
	i := &entity.Identity{
		Email:        email,
		Username:     username,
		PasswordHash: &hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         entity.RoleUser,
		Active:       true,
		Provider:     entity.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.store.Create(ctx, i); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return i, nil
}

// Lookup returns the identity for an email, or repo.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, email string) (*entity.Identity, error) {
	return s.store.GetByEmail(ctx, entity.NormalizeEmail(email))
}

// SetActive enables or disables an identity. Disabled identities fail signin and
// are rejected by the request interceptor even while holding a valid access token.
func (s *Service) SetActive(ctx context.Context, email string, active bool) (*entity.Identity, error) {
	i, err := s.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetActive(ctx, i.ID, active); err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	i.Active = active
	s.logger.Infow("identity active flag changed", "id", i.ID, "email", i.Email, "active", active)
	return i, nil
}

// SetRole replaces the role of an identity. role accepts "ROLE_SELLER" or "seller".
func (s *Service) SetRole(ctx context.Context, email, role string) (*entity.Identity, error) {
	r, ok := entity.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	i, err := s.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRole(ctx, i.ID, r); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	s.logger.Infow("identity role changed", "id", i.ID, "email", i.Email, "from", i.Role, "to", r)
	i.Role = r
	return i, nil
}
