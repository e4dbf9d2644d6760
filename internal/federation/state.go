package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingAuth is what the authorization redirect leaves behind for the callback.
type PendingAuth struct {
	Provider  string    `json:"provider"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore holds pending authorizations keyed by the OAuth state parameter.
// Take returns ErrInvalidState for unknown, expired or already consumed states.
type StateStore interface {
	Save(ctx context.Context, state string, p PendingAuth, ttl time.Duration) error
	Take(ctx context.Context, state string) (*PendingAuth, error)
}

type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "oauth:state:"}
}

func (r *RedisStateStore) key(state string) string {
	return r.prefix + state
}

func (r *RedisStateStore) Save(ctx context.Context, state string, p PendingAuth, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("oauth state: empty state")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("oauth state: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(state), data, ttl).Err()
}

// Take reads and deletes the state atomically (GETDEL).
func (r *RedisStateStore) Take(ctx context.Context, state string) (*PendingAuth, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	val, err := r.client.GetDel(ctx, r.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	var p PendingAuth
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("oauth state: failed to unmarshal: %w", err)
	}
	return &p, nil
}

// MemoryStateStore is the single-process fallback when no Redis is configured.
type MemoryStateStore struct {
	mu      sync.Mutex
	pending map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	auth      PendingAuth
	expiresAt time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{pending: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStateStore) Save(_ context.Context, state string, p PendingAuth, ttl time.Duration) error {
	if state == "" {
		return fmt.Errorf("oauth state: empty state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.pending {
		if !now.Before(e.expiresAt) {
			delete(m.pending, k)
		}
	}
	m.pending[state] = memoryEntry{auth: p, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStateStore) Take(_ context.Context, state string) (*PendingAuth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[state]
	if !ok {
		return nil, ErrInvalidState
	}
	delete(m.pending, state)
	if !m.now().Before(e.expiresAt) {
		return nil, ErrInvalidState
	}
	p := e.auth
	return &p, nil
}
