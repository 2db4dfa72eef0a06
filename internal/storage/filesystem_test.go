package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *FilesystemBackend {
	t.Helper()
	dir := t.TempDir()
	be, err := NewFilesystemBackend(Config{Backend: "filesystem", Root: dir})
	require.NoError(t, err)
	return be
}

func TestFilesystemBackend_PutGetRoundtrip(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	key := "vaults/v1/f1"
	content := []byte("ciphertext-bytes")
	require.NoError(t, be.Put(ctx, key, bytes.NewReader(content), map[string]string{"sha256": "abc"}))

	rc, meta, err := be.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "abc", meta["sha256"])
}

func TestFilesystemBackend_Head(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	present, err := be.Head(ctx, "vaults/v1/missing")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, be.Put(ctx, "vaults/v1/f1", bytes.NewReader([]byte("x")), nil))
	present, err = be.Head(ctx, "vaults/v1/f1")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestFilesystemBackend_GetMissingReturnsNotFound(t *testing.T) {
	be := newTestBackend(t)
	_, _, err := be.Get(context.Background(), "vaults/v1/missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFilesystemBackend_Overwrite(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()
	key := "vaults/v1/f1"

	require.NoError(t, be.Put(ctx, key, bytes.NewReader([]byte("first")), nil))
	require.NoError(t, be.Put(ctx, key, bytes.NewReader([]byte("second")), nil))

	rc, _, err := be.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(got))
}

func TestFilesystemBackend_DeleteIsBestEffort(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	assert.NoError(t, be.Delete(ctx, "vaults/v1/never-existed"))

	key := "vaults/v1/f1"
	require.NoError(t, be.Put(ctx, key, bytes.NewReader([]byte("x")), nil))
	require.NoError(t, be.Delete(ctx, key))

	present, err := be.Head(ctx, key)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestFilesystemBackend_RejectsInvalidKeys(t *testing.T) {
	be := newTestBackend(t)
	ctx := context.Background()

	cases := []string{"", "../escape", "/absolute"}
	for _, key := range cases {
		err := be.Put(ctx, key, bytes.NewReader([]byte("x")), nil)
		assert.ErrorIs(t, err, ErrInvalidKey, "key=%q", key)
	}
}

func TestFilesystemBackend_NestedKeyCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	be, err := NewFilesystemBackend(Config{Root: dir})
	require.NoError(t, err)

	key := "vaults/deadbeef/0123456789abcdef"
	require.NoError(t, be.Put(context.Background(), key, bytes.NewReader([]byte("x")), nil))
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(key)))
}

func TestNewBackend_SelectsFilesystemByDefault(t *testing.T) {
	dir := t.TempDir()
	be, err := NewBackend(Config{Root: dir})
	require.NoError(t, err)
	defer be.Close()
	_, ok := be.(*FilesystemBackend)
	assert.True(t, ok)
}

func TestNewBackend_RejectsUnknownBackend(t *testing.T) {
	_, err := NewBackend(Config{Backend: "ftp"})
	assert.Error(t, err)
}
