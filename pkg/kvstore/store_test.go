package kvstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"wxharvest/pkg/config"
)

func exerciseStore(t *testing.T, open func() (Store, error)) {
	t.Helper()

	s, err := open()
	require.NoError(t, err)

	assert.Equal(t, "fallback", s.Get("token", "fallback"))

	s.Set("token", "abc123")
	s.Set("cookie_header", "a=1; b=2")
	require.NoError(t, s.Save())

	// unsaved edits are dropped by Reload
	s.Set("token", "dirty")
	require.NoError(t, s.Reload())
	assert.Equal(t, "abc123", s.Get("token", ""))

	reopened, err := open()
	require.NoError(t, err)
	assert.Equal(t, "a=1; b=2", reopened.Get("cookie_header", ""))

	reopened.Delete("token")
	require.NoError(t, reopened.Save())
	require.NoError(t, s.Reload())
	assert.Equal(t, "", s.Get("token", ""))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "wx.lic")
	exerciseStore(t, func() (Store, error) { return NewFileStore(path) })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wx.enc")
	exerciseStore(t, func() (Store, error) { return NewEncryptedFileStore(path, "secret") })

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "a=1; b=2"))

	_, err = NewEncryptedFileStore(path, "wrong")
	assert.Error(t, err)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "wx.enc")

	exerciseStore(t, func() (Store, error) { return NewEncryptedFileStore(path, "") })
	_, err := os.Stat(filepath.Join(dir, ".passphrase"))
	assert.NoError(t, err)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	exerciseStore(t, func() (Store, error) { return NewKeyringStore("wxharvest-test", "session") })
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	s.Set("k", "v")
	require.NoError(t, s.Save())
	s.Set("k", "changed")
	require.NoError(t, s.Reload())
	assert.Equal(t, "v", s.Get("k", ""))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(config.SessionConfig{Backend: "file", Path: filepath.Join(dir, "wx.lic")})
	require.NoError(t, err)
	assert.NotNil(t, s)

	s, err = Open(config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = Open(config.SessionConfig{Backend: "etcd"})
	assert.Error(t, err)
}
