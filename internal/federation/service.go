package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
)

var (
	ErrMissingProviderEmail = errors.New("provider did not return an email")
	ErrUnverifiedEmail      = errors.New("provider email is not verified")
	ErrProviderMismatch     = errors.New("email is registered with a different provider")
	ErrSubjectMismatch      = errors.New("email is linked to a different provider account")
	ErrInvalidState         = errors.New("oauth state is missing, expired or already used")
	ErrUnknownProvider      = errors.New("unknown oauth provider")
)

// Store is the persistence surface federation needs.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*entity.Identity, error)
	Create(ctx context.Context, i *entity.Identity) (int64, error)
	UpdateProfile(ctx context.Context, i *entity.Identity) error
}

// FederatedPrincipal is a resolved external login, ready for token minting.
type FederatedPrincipal struct {
	Identity *entity.Identity
	Profile  NormalizedProfile
	Created  bool
}

// Service links external logins to local identities.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Resolve creates or updates the local identity for an external profile.
// An email already owned by another provider, or by another subject of the same
// provider, is never re-linked. Unverified emails are refused outright.
func (s *Service) Resolve(ctx context.Context, p Profile) (*FederatedPrincipal, error) {
	np := p.Normalize()
	np.Email = entity.NormalizeEmail(np.Email)
	if np.Email == "" {
		return nil, ErrMissingProviderEmail
	}
	if !np.EmailVerified {
		s.logger.Warnw("federated login rejected, unverified email", "email", np.Email, "provider", np.Provider, "subject", np.ExternalSubjectID)
		return nil, ErrUnverifiedEmail
	}

	existing, err := s.store.GetByEmail(ctx, np.Email)
	switch {
	case err == nil:
		return s.update(ctx, existing, np)
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("lookup identity: %w", err)
	}

	created, err := s.create(ctx, np)
	if errors.Is(err, repo.ErrDuplicateEmail) {
		// lost a first-login race; the winner's row is now visible
		s.logger.Infow("concurrent first login, retrying as update", "email", np.Email, "provider", np.Provider)
		existing, err = s.store.GetByEmail(ctx, np.Email)
		if err != nil {
			return nil, fmt.Errorf("reload identity after duplicate insert: %w", err)
		}
		return s.update(ctx, existing, np)
	}
	if err != nil {
		return nil, err
	}
	return &FederatedPrincipal{Identity: created, Profile: np, Created: true}, nil
}

func (s *Service) update(ctx context.Context, i *entity.Identity, np NormalizedProfile) (*FederatedPrincipal, error) {
	if i.Provider != np.Provider {
		s.logger.Warnw("federated login rejected, provider mismatch", "email", np.Email, "stored", i.Provider, "incoming", np.Provider)
		return nil, ErrProviderMismatch
	}
	switch {
	case i.ProviderSubjectID == nil || *i.ProviderSubjectID == "":
		if np.ExternalSubjectID != "" {
			sid := np.ExternalSubjectID
			i.ProviderSubjectID = &sid
		}
	case np.ExternalSubjectID != *i.ProviderSubjectID:
		s.logger.Warnw("federated login rejected, subject mismatch", "email", np.Email, "provider", np.Provider, "stored", *i.ProviderSubjectID, "incoming", np.ExternalSubjectID)
		return nil, ErrSubjectMismatch
	}
	if np.DisplayName != "" {
		first, last := splitName(np.DisplayName)
		i.FirstName = first
		if last != "" {
			i.LastName = last
		}
	}
	i.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, i); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return &FederatedPrincipal{Identity: i, Profile: np}, nil
}

func (s *Service) create(ctx context.Context, np NormalizedProfile) (*entity.Identity, error) {
	first, last := splitName(np.DisplayName)
	now := s.now().UTC()
	var subject *string
	if np.ExternalSubjectID != "" {
		sid := np.ExternalSubjectID
		subject = &sid
	}
	i := &entity.Identity{
		Email:             np.Email,
		Username:          np.Email,
		FirstName:         first,
		LastName:          last,
		Role:              entity.RoleUser,
		Active:            true,
		Provider:          np.Provider,
		ProviderSubjectID: subject,
		EmailVerified:     np.EmailVerified,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := s.store.Create(ctx, i); err != nil {
		return nil, err
	}
	s.logger.Infow("federated identity created", "id", i.ID, "email", i.Email, "provider", i.Provider)
	return i, nil
}
