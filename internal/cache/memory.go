package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Cache backed by go-cache.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates a cache that evicts expired entries every cleanup interval.
func NewMemory(cleanup time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(fullKey(scope, key))
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

func (m *Memory) Set(_ context.Context, scope, key string, val []byte, ttl time.Duration) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	m.c.Set(fullKey(scope, key), cp, ttl)
	return nil
}

func (m *Memory) InvalidateScope(_ context.Context, scope string) error {
	prefix := scope + ":"
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *Memory) HealthPing(context.Context) error { return nil }
