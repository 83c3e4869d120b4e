package kvstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "store.json")
	s := New(path, false)

	require.NoError(t, s.Set(map[string]string{"resolution": "4k", "locationEnabled": "false"}))
	require.NoError(t, s.Set(map[string]string{"autoDeleteDays": "7"}))

	got, err := s.Get("resolution", "autoDeleteDays", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"resolution": "4k", "autoDeleteDays": "7"}, got)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"autoDeleteDays", "locationEnabled", "resolution"}, keys)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "none.json"), true)
	got, err := s.Get("resolution")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_ReadOnlyRejectWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s := New(path, true)

	err := s.Set(map[string]string{"k": "v"})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(path, false).Get("resolution")
	require.Error(t, err)
}

func TestMemory_SetErr(t *testing.T) {
	m := NewMemory(map[string]string{"a": "1"})
	m.SetErr = errors.New("disk full")

	require.Error(t, m.Set(map[string]string{"b": "2"}))
	got, _ := m.Get("a", "b")
	assert.Equal(t, map[string]string{"a": "1"}, got)
}
