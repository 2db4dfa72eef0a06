package syncengine

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/db/migrations"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/vault"
)

type fakeBlobs struct {
	mu      sync.Mutex
	present map[string]bool
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{present: map[string]bool{}} }

func (f *fakeBlobs) Head(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[key], nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.present, key)
	return nil
}

func (f *fakeBlobs) put(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[key] = true
}

type fakeQuota struct {
	quota int64
	used  int64
}

func (q *fakeQuota) GetQuota(ctx context.Context, userID string) (int64, int64, error) {
	return q.quota, q.used, nil
}

func (q *fakeQuota) AddUsage(ctx context.Context, userID string, delta int64) error {
	q.used += delta
	return nil
}

type testEnv struct {
	svc    *Service
	vaults *vault.Service
	blobs  *fakeBlobs
	quota  *fakeQuota
	userID string
}

func newTestEnv(t *testing.T, quotaBytes int64) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	require.NoError(t, migrations.NewMigrationManager(db, logger).Migrate())

	userID := "user-1"
	_, err = db.Exec(`INSERT INTO users (id, email, password_hash, password_algo, salt, email_verified,
		subscription_tier, storage_quota_bytes, storage_used_bytes, mfa_enabled, identity_provider,
		created_at, updated_at) VALUES (?, ?, '', 'argon2id', '', 1, 'free', ?, 0, 0, 'local', 0, 0)`,
		userID, userID+"@example.com", quotaBytes)
	require.NoError(t, err)

	auditor := audit.NewManager(audit.NewSQLiteStore(db, logger), logger)

	vaultRepo := vault.NewRepository(db)
	fileRepo := NewRepository(db)
	blobs := newFakeBlobs()
	quota := &fakeQuota{quota: quotaBytes}

	vaultSvc := vault.New(vaultRepo, fileRepo, blobs, auditor, logger)
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	syncSvc := New(fileRepo, vaultSvc, blobs, nil, quota, limiter, auditor, logger)

	return &testEnv{svc: syncSvc, vaults: vaultSvc, blobs: blobs, quota: quota, userID: userID}
}

func (e *testEnv) createVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := e.vaults.Create(context.Background(), e.userID, "notes", "key", "nonce")
	require.NoError(t, err)
	return v
}

func TestPush_CreateThenPullSeesPendingOnlyAfterUpload(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 100, ModifiedAt: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, VerdictAccepted, results[0].Verdict)
	require.NotEmpty(t, results[0].UploadURL)

	pull, err := env.svc.Pull(ctx, v.ID, env.userID, "", 100)
	require.NoError(t, err)
	require.Empty(t, pull.Changes, "file with no uploaded blob must not surface as a change")

	fileID := results[0].FileID
	env.blobs.put("vaults/" + v.ID + "/" + fileID)

	pull, err = env.svc.Pull(ctx, v.ID, env.userID, "", 100)
	require.NoError(t, err)
	require.Len(t, pull.Changes, 1)
	require.Equal(t, OpCreate, pull.Changes[0].Operation)
}

func TestPush_QuotaExceededReturnsErrorVerdict(t *testing.T) {
	env := newTestEnv(t, 50)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "big.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 100, ModifiedAt: 1},
	})
	require.NoError(t, err)
	require.Equal(t, VerdictError, results[0].Verdict)
}

func TestPush_StaleBaseVersionConflicts(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 10, ModifiedAt: 1},
	})
	require.NoError(t, err)
	fileID := results[0].FileID
	env.blobs.put("vaults/" + v.ID + "/" + fileID)

	staleBase := int64(0)
	results, err = env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpUpdate, ContentHash: "hash-b", Size: 20, ModifiedAt: 2, BaseVersion: &staleBase},
	})
	require.NoError(t, err)
	require.Equal(t, VerdictConflict, results[0].Verdict)
}

func TestPush_IdempotentRedeclareOnStaleBaseIsAccepted(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 10, ModifiedAt: 1},
	})
	require.NoError(t, err)
	fileID := results[0].FileID
	env.blobs.put("vaults/" + v.ID + "/" + fileID)

	staleBase := int64(0)
	results, err = env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpUpdate, ContentHash: "hash-a", Size: 10, ModifiedAt: 1, BaseVersion: &staleBase},
	})
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, results[0].Verdict)
	require.Empty(t, results[0].UploadURL, "identical content on a stale base must not request a re-upload")
}

func TestPush_DeleteThenPullSurfacesDeleteChange(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 10, ModifiedAt: 1},
	})
	require.NoError(t, err)
	fileID := results[0].FileID
	env.blobs.put("vaults/" + v.ID + "/" + fileID)

	results, err = env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpDelete},
	})
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, results[0].Verdict)

	pull, err := env.svc.Pull(ctx, v.ID, env.userID, "", 100)
	require.NoError(t, err)
	require.Len(t, pull.Changes, 1)
	require.Equal(t, OpDelete, pull.Changes[0].Operation)
}

func TestPush_DeleteOnNothingIsAcceptedWithNilVersion(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "never-existed.enc", Operation: OpDelete},
	})
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, results[0].Verdict)
	require.Nil(t, results[0].NewVersion)
}

func TestConfirm_ReportsConfirmedAndFailed(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	results, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 10, ModifiedAt: 1},
		{EncryptedPath: "b.enc", Operation: OpCreate, ContentHash: "hash-b", Size: 10, ModifiedAt: 1},
	})
	require.NoError(t, err)
	env.blobs.put("vaults/" + v.ID + "/" + results[0].FileID)

	confirm, err := env.svc.Confirm(ctx, v.ID, env.userID, []string{results[0].FileID, results[1].FileID})
	require.NoError(t, err)
	require.Equal(t, []string{results[0].FileID}, confirm.Confirmed)
	require.Equal(t, []string{results[1].FileID}, confirm.Failed)
}

func TestStatus_CountsLiveFilesOnly(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	_, err := env.svc.Push(ctx, v.ID, env.userID, []Change{
		{EncryptedPath: "a.enc", Operation: OpCreate, ContentHash: "hash-a", Size: 10, ModifiedAt: 5},
		{EncryptedPath: "b.enc", Operation: OpCreate, ContentHash: "hash-b", Size: 20, ModifiedAt: 7},
	})
	require.NoError(t, err)

	status, err := env.svc.Status(ctx, v.ID, env.userID)
	require.NoError(t, err)
	require.Equal(t, int64(2), status.FileCount)
	require.Equal(t, int64(30), status.TotalSizeBytes)
	require.Equal(t, int64(7), status.LastModified)
}

func TestPull_CrossUserVaultAccessReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	v := env.createVault(t)

	_, err := env.svc.Pull(ctx, v.ID, "someone-else", "", 100)
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeVaultNotFound, apiErr.Code)
}
