package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiojin/llm-router/config"
)

func TestLoadOrCreateJWTSecret_MintsOnceThenReloads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateJWTSecret(dir)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := LoadOrCreateJWTSecret(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateJWTSecret_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}

	dir := t.TempDir()
	_, err := LoadOrCreateJWTSecret(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "jwt_secret"))
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, info.Mode().Perm())
}

func TestLoadOrCreateJWTSecret_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt_secret"), []byte("not-hex!"), 0o600))

	_, err := LoadOrCreateJWTSecret(dir)
	assert.Error(t, err)
}

func TestResolveJWTSecret_PrefersConfigured(t *testing.T) {
	got, err := ResolveJWTSecret(config.AuthConfig{JWTSecret: "configured-secret"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []byte("configured-secret"), got)
}
