package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// MemoryRepo is an in-process identity store used for local development and tests.
// It enforces the same unique-email rule as the postgres table.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[int64]*entity.Identity
	byEmail map[string]int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[int64]*entity.Identity),
		byEmail: make(map[string]int64),
	}
}

func (m *MemoryRepo) Create(_ context.Context, i *entity.Identity) (int64, error) {
	key := entity.NormalizeEmail(i.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[key]; ok {
		return 0, ErrDuplicateEmail
	}
	if i.ID == 0 {
		i.ID = utilities.NewSnowflakeID()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = i.CreatedAt
	}
	cp := *i
	m.byID[i.ID] = &cp
	m.byEmail[key] = i.ID
	return i.ID, nil
}

func (m *MemoryRepo) GetByEmail(_ context.Context, email string) (*entity.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[entity.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryRepo) UpdateProfile(_ context.Context, i *entity.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[i.ID]
	if !ok {
		return ErrNotFound
	}
	row.FirstName = i.FirstName
	row.LastName = i.LastName
	row.ProviderSubjectID = i.ProviderSubjectID
	row.UpdatedAt = i.UpdatedAt
	return nil
}

func (m *MemoryRepo) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	row.LastLoginAt = &at
	row.UpdatedAt = at
	return nil
}

func (m *MemoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	row.Active = active
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepo) SetRole(_ context.Context, id int64, role entity.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	row.Role = role
	row.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of stored identities.
func (m *MemoryRepo) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
