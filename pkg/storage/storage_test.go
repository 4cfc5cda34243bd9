package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Set("item:1", item{Name: "timer", Count: 3}))

	var got item
	require.NoError(t, s.Get("item:1", &got))
	assert.Equal(t, item{Name: "timer", Count: 3}, got)

	require.NoError(t, s.Delete("item:1"))
	err := s.Get("item:1", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAndScan(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("item:b", item{Name: "b"}))
	require.NoError(t, s.Set("item:a", item{Name: "a"}))
	require.NoError(t, s.Set("other:x", item{Name: "x"}))

	keys, err := s.List("item:")
	require.NoError(t, err)
	assert.Equal(t, []string{"item:a", "item:b"}, keys)

	var names []string
	err = s.Scan("other:", func(key string, data []byte) error {
		names = append(names, key+"="+string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`other:x={"name":"x","count":0}`}, names)
}

func TestStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", item{Name: "persisted"}))
	require.NoError(t, s.Close())

	s, err = New(dir)
	require.NoError(t, err)
	defer s.Close()

	var got item
	require.NoError(t, s.Get("k", &got))
	assert.Equal(t, "persisted", got.Name)
}
