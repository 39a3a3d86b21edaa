package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/cache"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/dispatch"
)

func TestNewStore_SQLiteFile(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "companion.db")
	st, err := NewStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	assert.NoError(t, st.HealthPing(context.Background()))
}

func TestNewStore_UnknownDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "spanner"
	_, err := NewStore(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewCache(t *testing.T) {
	cfg := config.NewForTesting()
	c, err := NewCache(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, c)

	cfg.CacheDriver = "memcached"
	_, err = NewCache(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewEncryptor(t *testing.T) {
	cfg := config.NewForTesting()
	enc, err := NewEncryptor(cfg)
	require.NoError(t, err)
	assert.Equal(t, crypto.Noop{}, enc)

	cfg.EncryptionEnabled = true
	cfg.EncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	enc, err = NewEncryptor(cfg)
	require.NoError(t, err)
	assert.IsType(t, &crypto.AESGCM{}, enc)

	cfg.EncryptionKey = "short"
	_, err = NewEncryptor(cfg)
	assert.Error(t, err)
}

func TestNewDispatcher(t *testing.T) {
	cfg := config.NewForTesting()
	assert.IsType(t, &dispatch.Log{}, NewDispatcher(cfg, zerolog.Nop()))
	cfg.DispatchWebhookURL = "http://localhost:9999"
	assert.IsType(t, &dispatch.Webhook{}, NewDispatcher(cfg, zerolog.Nop()))
}
