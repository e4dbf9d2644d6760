package repo

import (
	"context"
	"sync"
	"time"
)

// MemoryRefreshRepo keeps refresh records in process memory.
type MemoryRefreshRepo struct {
	mu   sync.RWMutex
	recs map[string]*RefreshRecord
}

func NewMemoryRefreshRepo() *MemoryRefreshRepo {
	return &MemoryRefreshRepo{recs: make(map[string]*RefreshRecord)}
}

func (m *MemoryRefreshRepo) Save(_ context.Context, rec *RefreshRecord) error {
	cp := *rec
	m.mu.Lock()
	m.recs[rec.JTI] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRefreshRepo) Get(_ context.Context, jti string) (*RefreshRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRefreshRepo) Revoke(_ context.Context, jti string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[jti]; ok && rec.RevokedAt == nil {
		rec.RevokedAt = &at
	}
	return nil
}

func (m *MemoryRefreshRepo) RevokeSubject(_ context.Context, subject string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.recs {
		if rec.Subject == subject && rec.RevokedAt == nil {
			rec.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *MemoryRefreshRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for jti, rec := range m.recs {
		if rec.ExpiresAt.Before(before) {
			delete(m.recs, jti)
			n++
		}
	}
	return n, nil
}
