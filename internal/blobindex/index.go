// Package blobindex maintains a fast existence cache for the Blob
// Store: BadgerDB, keyed identically to the backend blob key, so the
// Sync Engine's pull and push paths can check presence without a
// backend round trip on the hot path. Upload and the confirm step of
// two-phase upload (§4.1, §4.5) populate it; confirm itself always
// probes the backend.
package blobindex

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Index tracks which blob keys are known to be present in the backing
// store. It is a cache, not a source of truth: a miss means "ask the
// backend", not "does not exist".
type Index struct {
	db     *badger.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// Options configures an Index.
type Options struct {
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// Open opens (or creates) the existence index at opts.DataDir.
func Open(opts Options) (*Index, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "blobindex")
	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(32 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob index: %w", err)
	}

	idx := &Index{db: db, logger: opts.Logger}
	idx.ready.Store(true)
	opts.Logger.WithField("path", dbPath).Info("blob existence index opened")
	return idx, nil
}

// MarkPresent records that key is present in the backing store.
func (idx *Index) MarkPresent(ctx context.Context, key string, size int64) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(fmt.Sprintf("%d", size)))
	})
}

// Contains reports whether key is marked present. A false result is
// not authoritative — callers fall back to the Blob Store's Head.
func (idx *Index) Contains(ctx context.Context, key string) (bool, error) {
	var found bool
	err := idx.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Forget removes key from the index, typically after the blob is
// deleted from the backing store.
func (idx *Index) Forget(ctx context.Context, key string) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Close releases the underlying BadgerDB handle.
func (idx *Index) Close() error {
	idx.ready.Store(false)
	return idx.db.Close()
}

type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf("[badger] "+format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf("[badger] "+format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf("[badger] "+format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Tracef("[badger] "+format, args...) }
