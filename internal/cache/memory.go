package cache

import (
	"context"
	"time"

	"github.com/leshachaplin/eventstream/internal/domain"
)

type Memory struct {
	items *TTLCache[string, Lookup]
}

func NewMemory(cfg Config, now func() time.Time) *Memory {
	cfg = cfg.WithDefaults()
	return &Memory{items: NewTTLCache[string, Lookup](cfg.MaxSize, now)}
}

func (m *Memory) Get(_ context.Context, apiKey string) (Lookup, error) {
	l, ok := m.items.Get(apiKey)
	if !ok {
		return Miss(), nil
	}
	return l, nil
}

func (m *Memory) SetIdentity(_ context.Context, apiKey string, identity domain.Identity, ttl time.Duration) error {
	m.items.Set(apiKey, Hit(identity), ttl)
	return nil
}

func (m *Memory) SetInvalid(_ context.Context, apiKey string, ttl time.Duration) error {
	m.items.Set(apiKey, Invalid(), ttl)
	return nil
}
