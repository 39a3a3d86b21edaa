package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *AESGCM {
	t.Helper()
	e, err := NewAESGCM(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return e
}

func TestAESGCM_RoundTrip(t *testing.T) {
	e := newTestEncryptor(t)
	ct, err := e.Encrypt("user-1", "secret diary")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, prefix))
	assert.NotContains(t, ct, "secret")

	pt, err := e.Decrypt("user-1", ct)
	require.NoError(t, err)
	assert.Equal(t, "secret diary", pt)
}

func TestAESGCM_KeyIsPerUser(t *testing.T) {
	e := newTestEncryptor(t)
	ct, err := e.Encrypt("user-1", "secret")
	require.NoError(t, err)
	_, err = e.Decrypt("user-2", ct)
	assert.Error(t, err)
}

func TestAESGCM_PlaintextPassesThrough(t *testing.T) {
	e := newTestEncryptor(t)
	pt, err := e.Decrypt("user-1", "written before encryption")
	require.NoError(t, err)
	assert.Equal(t, "written before encryption", pt)
}

func TestNewAESGCM_RejectsShortKey(t *testing.T) {
	_, err := NewAESGCM([]byte("short"))
	assert.Error(t, err)
}
