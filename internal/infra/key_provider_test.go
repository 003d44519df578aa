package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)

	assert.False(t, provider.KeyExists())

	key := make([]byte, keySize)
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, provider.StoreKey(key))
	assert.True(t, provider.KeyExists())

	got, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_RejectsWrongSize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.Error(t, provider.StoreKey([]byte("short")))
}

func TestFileKeyProvider_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)
	require.NoError(t, provider.StoreKey(make([]byte, keySize)))

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileKeyProvider_CorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("not base64!!"), 0600))

	provider := NewFileKeyProvider(dir)
	_, err := provider.GetKey()
	assert.Error(t, err)
}

func TestEnsureKey_GeneratesOnce(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	first, err := EnsureKey(provider)
	require.NoError(t, err)
	require.Len(t, first, keySize)

	second, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing key is reused, not regenerated")
}
