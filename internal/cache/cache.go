// Package cache provides the key-value cache capability used for short-lived
// read caching. Entries live inside a scope (typically one user) so that every
// entry of a scope can be dropped at once.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get reports a miss with ok=false and a nil error.
	Get(ctx context.Context, scope, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, scope, key string, val []byte, ttl time.Duration) error
	// InvalidateScope removes every entry written under scope.
	InvalidateScope(ctx context.Context, scope string) error
	HealthPing(ctx context.Context) error
}

func fullKey(scope, key string) string { return scope + ":" + key }
