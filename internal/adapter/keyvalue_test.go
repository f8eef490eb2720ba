package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileKeyValueStorePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyValueStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put("outbox", "entry-1", []byte("payload")))
	v, ok, err := s.Get("outbox", "entry-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)

	require.NoError(t, s.Delete("outbox", "entry-1"))
	_, ok, err = s.Get("outbox", "entry-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileKeyValueStoreList(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyValueStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put("outbox", "a", []byte("1")))
	require.NoError(t, s.Put("outbox", "b", []byte("2")))

	keys, err := s.List("outbox")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestFileKeyValueStoreListEmptyNamespace(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyValueStore(dir)
	require.NoError(t, err)

	keys, err := s.List("never-written")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFileKeyValueStoreGetMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyValueStore(dir)
	require.NoError(t, err)

	_, ok, err := s.Get("outbox", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
