package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FilesystemBackend implements Backend over the local filesystem.
type FilesystemBackend struct {
	rootPath string
}

// NewFilesystemBackend creates a new filesystem blob store backend.
func NewFilesystemBackend(cfg Config) (*FilesystemBackend, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, NewErrorWithCause("CreateRootDir", "failed to create root directory", err)
	}
	return &FilesystemBackend{rootPath: cfg.Root}, nil
}

// Put writes data to key, replacing any prior content, via a
// write-temp-then-rename so a failed Put never leaves a partial blob
// visible to Head/Get.
func (fs *FilesystemBackend) Put(ctx context.Context, key string, data io.Reader, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	fullPath := fs.fullPath(key)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewErrorWithCause("CreateDirectory", "failed to create blob directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return NewErrorWithCause("CreateTempFile", "failed to create temporary file", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, data); err != nil {
		return NewErrorWithCause("WriteData", "failed to write blob data", err)
	}
	if err := tmp.Close(); err != nil {
		return NewErrorWithCause("WriteData", "failed to flush blob data", err)
	}

	if metadata != nil {
		if err := fs.writeMetadata(key, metadata); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return NewErrorWithCause("AtomicMove", "failed to move blob into place", err)
	}
	return nil
}

// Get opens key for reading.
func (fs *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	fullPath := fs.fullPath(key)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, NewErrorWithCause("OpenFile", "failed to open blob", err)
	}

	metadata, _ := fs.readMetadata(key)
	return file, metadata, nil
}

// Head reports whether key is present. This is authoritative per §4.1.
func (fs *FilesystemBackend) Head(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(fs.fullPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, NewErrorWithCause("StatFile", "failed to stat blob", err)
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error: callers
// (the Sync Engine's delete branch) treat blob deletion as best-effort.
func (fs *FilesystemBackend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	fullPath := fs.fullPath(key)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return NewErrorWithCause("DeleteFile", "failed to delete blob", err)
	}
	metaPath := fs.metadataPath(key)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("key", key).Warn("failed to remove blob metadata sidecar")
	}
	return nil
}

// Close releases resources held by the backend. The filesystem backend
// holds none.
func (fs *FilesystemBackend) Close() error { return nil }

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	return nil
}

func (fs *FilesystemBackend) fullPath(key string) string {
	return filepath.Join(fs.rootPath, filepath.FromSlash(key))
}

func (fs *FilesystemBackend) metadataPath(key string) string {
	return fs.fullPath(key) + ".meta.json"
}

func (fs *FilesystemBackend) writeMetadata(key string, metadata map[string]string) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return NewErrorWithCause("MarshalMetadata", "failed to marshal blob metadata", err)
	}
	if err := os.WriteFile(fs.metadataPath(key), data, 0o644); err != nil {
		return NewErrorWithCause("WriteMetadata", "failed to write blob metadata", err)
	}
	return nil
}

func (fs *FilesystemBackend) readMetadata(key string) (map[string]string, error) {
	data, err := os.ReadFile(fs.metadataPath(key))
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
