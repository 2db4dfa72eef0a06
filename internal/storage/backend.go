// Package storage implements the Sync Core's Blob Store: opaque byte
// storage keyed by a server-chosen string ("vaults/<vault_id>/<file_id>").
// The store never inspects or requires plaintext.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Backend is the Blob Store contract (§4.1): put, get, head, delete.
// Writes are read-your-writes within a region; Head is authoritative
// for "content present"; there is no versioning, an overwrite replaces.
type Backend interface {
	Put(ctx context.Context, key string, data io.Reader, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error)
	Head(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewBackend creates a Blob Store backend based on configuration.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "filesystem", "":
		return NewFilesystemBackend(cfg)
	case "s3":
		return NewS3Backend(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: filesystem, s3)", cfg.Backend)
	}
}
