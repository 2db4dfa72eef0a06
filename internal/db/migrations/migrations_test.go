package migrations

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T) *sql.DB {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return logger
}

func TestNewMigrationManager(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())
	require.NotNil(t, manager)
	assert.NotNil(t, manager.db)
	assert.NotNil(t, manager.logger)
	assert.Greater(t, len(manager.migrations), 0)
}

func TestMigrationManager_Initialize(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	err := manager.Initialize()
	require.NoError(t, err)

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	require.NoError(t, err)
	assert.Equal(t, "schema_version", tableName)
}

func TestMigrationManager_GetCurrentVersion_EmptyDB(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	err := manager.Initialize()
	require.NoError(t, err)

	version, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestMigrationManager_GetTargetVersion(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	assert.Equal(t, 4, manager.GetTargetVersion())
}

func TestMigrationManager_Migrate_EmptyDB(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	err := manager.Migrate()
	require.NoError(t, err)

	currentVersion, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, manager.GetTargetVersion(), currentVersion)

	tables := []string{
		"users", "devices", "sessions",
		"vaults", "vault_keys", "vault_files",
		"rate_buckets", "audit_log",
		"federated_identities",
	}
	for _, table := range tables {
		var tableName string
		err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrationManager_Migrate_AlreadyUpToDate(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.Migrate())
	require.NoError(t, manager.Migrate())

	currentVersion, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, manager.GetTargetVersion(), currentVersion)
}

func TestMigrationManager_MigrateTo(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	err := manager.MigrateTo(2)
	require.NoError(t, err)

	currentVersion, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, currentVersion)

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='users'").Scan(&tableName)
	assert.NoError(t, err)

	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='vault_files'").Scan(&tableName)
	assert.NoError(t, err)

	// Migration 3's tables must not exist yet.
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='rate_buckets'").Scan(&tableName)
	assert.Error(t, err)
}

func TestMigrationManager_MigrateTo_ThenMigrateAll(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(2))
	currentVersion, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, currentVersion)

	require.NoError(t, manager.Migrate())
	currentVersion, err = manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, manager.GetTargetVersion(), currentVersion)
}

func TestMigrationManager_GetMigrationHistory(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(3))

	history, err := manager.GetMigrationHistory()
	require.NoError(t, err)
	require.Equal(t, 3, len(history))

	assert.Equal(t, 1, history[0].Version)
	assert.Contains(t, history[0].Description, "users")
	assert.False(t, history[0].AppliedAt.IsZero())

	assert.Equal(t, 2, history[1].Version)
	assert.Contains(t, history[1].Description, "vault")

	assert.Equal(t, 3, history[2].Version)
	assert.Contains(t, history[2].Description, "rate_buckets")
}

func TestMigrationManager_MigrateWithTransaction(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.Migrate())

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, manager.GetTargetVersion(), count)
}

func TestMigrationManager_Migration1_CoreTables(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(1))

	tables := []string{"users", "devices", "sessions"}
	for _, table := range tables {
		var tableName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		assert.NoError(t, err, "table %s should exist after migration 1", table)
	}

	indexes := []string{
		"idx_users_email",
		"idx_devices_user_id",
		"idx_sessions_refresh_hash",
	}
	for _, index := range indexes {
		var indexName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&indexName)
		assert.NoError(t, err, "index %s should exist after migration 1", index)
	}
}

func TestMigrationManager_Migration2_VaultFilesLiveUniqueness(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(2))

	var indexName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_vault_files_live_path'").Scan(&indexName)
	assert.NoError(t, err)
}

func TestMigrationManager_Migration3_RateBucketsAndAudit(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(3))

	for _, table := range []string{"rate_buckets", "audit_log"} {
		var tableName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		assert.NoError(t, err, "table %s should exist after migration 3", table)
	}
}

func TestMigrationManager_Migration4_FederatedIdentities(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.MigrateTo(4))

	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='federated_identities'").Scan(&tableName)
	assert.NoError(t, err)
}

func TestMigrationManager_FullMigration_AllTables(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())

	require.NoError(t, manager.Migrate())

	expectedTables := []string{
		"users", "devices", "sessions",
		"vaults", "vault_keys", "vault_files",
		"rate_buckets", "audit_log",
		"federated_identities",
	}

	for _, table := range expectedTables {
		var tableName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		assert.NoError(t, err, "table %s should exist after full migration", table)
	}

	var tableCount int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableCount)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tableCount, len(expectedTables)+1)
}

func TestVaultFiles_EnforcesOneLiveRowPerPath(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, newTestLogger())
	require.NoError(t, manager.Migrate())

	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, salt, storage_quota_bytes, created_at, updated_at)
		VALUES ('u1', 'a@x.y', 'h', 's', 104857600, 1, 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO vaults (id, user_id, name, created_at, updated_at) VALUES ('v1', 'u1', 'n', 1, 1)`)
	require.NoError(t, err)

	insertFile := `INSERT INTO vault_files
		(id, vault_id, encrypted_path, content_hash, modified_at, version, storage_key, created_at, updated_at)
		VALUES (?, 'v1', 'p1', 'h1', 1, 1, 'vaults/v1/?', 1, 1)`

	_, err = db.Exec(insertFile, "f1")
	require.NoError(t, err)

	_, err = db.Exec(insertFile, "f2")
	assert.Error(t, err, "a second live row for the same (vault_id, encrypted_path) must be rejected")
}
