package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSecretStorePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSecretStore(dir, []byte("correct horse battery staple"))
	require.NoError(t, err)

	require.NoError(t, s.Put("identity-signing-key", []byte("top secret bytes")))
	got, err := s.Get("identity-signing-key")
	require.NoError(t, err)
	require.Equal(t, []byte("top secret bytes"), got)
}

func TestFileSecretStoreWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSecretStore(dir, []byte("pass-a"))
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))

	other, err := NewFileSecretStore(dir, []byte("pass-b"))
	require.NoError(t, err)
	_, err = other.Get("k")
	require.Error(t, err)
}

func TestFileSecretStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSecretStore(dir, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	require.Error(t, err)
}

func TestFileSecretStoreGetMissingFails(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSecretStore(dir, []byte("pass"))
	require.NoError(t, err)
	_, err = s.Get("does-not-exist")
	require.Error(t, err)
}
