package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// PebbleStore persists rate-limit buckets in a Pebble LSM tree so
// counters survive a process restart (RATE_LIMIT_STORE=pebble).
type PebbleStore struct {
	db     *pebble.DB
	logger *logrus.Logger
}

// PebbleStoreOptions configures a PebbleStore.
type PebbleStoreOptions struct {
	DataDir string
	Logger  *logrus.Logger
}

// NewPebbleStore opens (creating if necessary) a Pebble-backed bucket store.
func NewPebbleStore(opts PebbleStoreOptions) (*PebbleStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "ratelimit")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("create ratelimit data dir: %w", err)
	}

	db, err := pebble.Open(dbPath, &pebble.Options{
		Logger: &pebbleLogger{logger: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble ratelimit store: %w", err)
	}

	return &PebbleStore{db: db, logger: opts.Logger}, nil
}

func (s *PebbleStore) Load(action, identifier string) (Bucket, bool, error) {
	val, closer, err := s.db.Get([]byte(bucketKey(action, identifier)))
	if err == pebble.ErrNotFound {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, err
	}
	defer closer.Close()

	var bucket Bucket
	if err := json.Unmarshal(val, &bucket); err != nil {
		return Bucket{}, false, fmt.Errorf("decode rate bucket: %w", err)
	}
	return bucket, true, nil
}

func (s *PebbleStore) Save(action, identifier string, bucket Bucket) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode rate bucket: %w", err)
	}
	return s.db.Set([]byte(bucketKey(action, identifier)), data, pebble.NoSync)
}

func (s *PebbleStore) Sweep(now time.Time) (int, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var expired [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var bucket Bucket
		if err := json.Unmarshal(iter.Value(), &bucket); err != nil {
			continue
		}
		if now.After(bucket.ExpiresAt) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			expired = append(expired, key)
		}
	}

	batch := s.db.NewBatch()
	for _, key := range expired {
		if err := batch.Delete(key, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// pebbleLogger adapts logrus to pebble's logging interface.
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[pebble] "+format, args...)
}
