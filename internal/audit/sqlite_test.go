package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) (*Manager, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "audit-test-*")
	require.NoError(t, err)

	db, err := sql.Open("sqlite", filepath.Join(tempDir, "audit_test.db"))
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE audit_log (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			device_id TEXT,
			action TEXT NOT NULL,
			details_json TEXT,
			ip TEXT,
			user_agent TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store := NewSQLiteStore(db, logger)
	mgr := NewManager(store, logger)

	cleanup := func() {
		mgr.Close()
		db.Close()
		os.RemoveAll(tempDir)
	}
	return mgr, cleanup
}

func TestManager_RecordAndListByUser(t *testing.T) {
	mgr, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mgr.Record(ctx, "user-1", "device-1", ActionLogin, map[string]interface{}{"via": "password"}, "1.2.3.4", "test-agent")
	mgr.Record(ctx, "user-1", "", ActionLoginFailed, nil, "1.2.3.4", "test-agent")
	mgr.Record(ctx, "user-2", "device-9", ActionLogin, nil, "5.6.7.8", "other-agent")

	entries, total, err := mgr.ListByUser(ctx, "user-1", Filters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, entries, 2)
	require.Equal(t, ActionLoginFailed, entries[0].Action) // most recent first
}

func TestManager_ListByUser_FiltersByAction(t *testing.T) {
	mgr, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mgr.Record(ctx, "user-1", "device-1", ActionLogin, nil, "", "")
	mgr.Record(ctx, "user-1", "device-1", ActionLogout, nil, "", "")

	entries, total, err := mgr.ListByUser(ctx, "user-1", Filters{Action: ActionLogout})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, entries, 1)
	require.Equal(t, ActionLogout, entries[0].Action)
}

func TestManager_Record_SwallowsStoreErrors(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "audit-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	db, err := sql.Open("sqlite", filepath.Join(tempDir, "audit_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close()) // closed DB forces every query to fail

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	mgr := NewManager(NewSQLiteStore(db, logger), logger)

	// Record must not panic even though the store is now unusable.
	mgr.Record(context.Background(), "user-1", "device-1", ActionLogin, nil, "", "")
}
