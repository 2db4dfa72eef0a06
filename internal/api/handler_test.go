package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/auth"
	"github.com/DevNvll/echopad/internal/db/migrations"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/syncengine"
	"github.com/DevNvll/echopad/internal/tokenservice"
	"github.com/DevNvll/echopad/internal/transfer"
	"github.com/DevNvll/echopad/internal/vault"
)

// memBlobStore is an in-memory storage.Backend stand-in shared across
// the vault/syncengine/transfer services the dispatcher wires together.
type memBlobStore struct{ data map[string][]byte }

func newMemBlobStore() *memBlobStore { return &memBlobStore{data: map[string][]byte{}} }

func (m *memBlobStore) Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(b)), nil, nil
}

func (m *memBlobStore) Head(ctx context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

type testServer struct {
	router *mux.Router
	userID string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	require.NoError(t, migrations.NewMigrationManager(db, logger).Migrate())

	auditor := audit.NewManager(audit.NewSQLiteStore(db, logger), logger)
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	tokens := tokenservice.New("test-secret")
	blobs := newMemBlobStore()

	authRepo := auth.NewRepository(db)
	authSvc := auth.New(authRepo, tokens, limiter, auditor, logger, auth.Options{
		Issuer: "echopad-test", FreeBytes: 1 << 20, ProBytes: 1 << 30, TeamBytes: 1 << 30,
	})

	vaultRepo := vault.NewRepository(db)
	fileRepo := syncengine.NewRepository(db)
	vaultSvc := vault.New(vaultRepo, fileRepo, blobs, auditor, logger)
	syncSvc := syncengine.New(fileRepo, vaultSvc, blobs, nil, authRepo, limiter, auditor, logger)
	transferSvc := transfer.New(fileRepo, vaultSvc, blobs, nil, authRepo, limiter, auditor, logger)

	h := NewHandler(authSvc, vaultSvc, syncSvc, transferSvc, tokens, logger)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{router: router}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) registerAndLogin(t *testing.T) (token, userID string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerRequest{
		Email: "tester@example.com", Password: "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email: "tester@example.com", Password: "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result authResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.AccessToken, result.User.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterLoginAndGetAccount(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.registerAndLogin(t)

	rec := s.do(t, http.MethodGet, "/api/v1/account", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var account accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	require.Equal(t, "tester@example.com", account.Email)
}

func TestProtectedRoute_MissingTokenReturns401(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/vaults", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "MISSING_TOKEN", body.Code)
}

func TestVaultLifecycleAndFileSync(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/v1/vaults", token, createVaultRequest{
		Name: "notes", EncryptedKey: "wrapped-key", KeyNonce: "nonce",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var v vault.Vault
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	rec = s.do(t, http.MethodPost, "/api/v1/vaults/"+v.ID+"/sync/push", token, syncPushRequest{
		Changes: []syncengine.Change{
			{EncryptedPath: "a.enc", Operation: syncengine.OpCreate, ContentHash: "hash-a", Size: 11, ModifiedAt: 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pushed struct {
		Results []syncengine.PushResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pushed))
	require.Len(t, pushed.Results, 1)
	require.Equal(t, syncengine.VerdictAccepted, pushed.Results[0].Verdict)
	fileID := pushed.Results[0].FileID

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/vaults/"+v.ID+"/files/"+fileID+"/upload", bytes.NewReader([]byte("ciphertext!")))
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/vaults/"+v.ID+"/files/"+fileID+"/download", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ciphertext!", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/vaults/"+v.ID+"/sync/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status syncengine.StatusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, int64(1), status.FileCount)
}

func TestCrossUserVaultAccessReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/v1/vaults", token, createVaultRequest{
		Name: "mine", EncryptedKey: "k", KeyNonce: "n",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var v vault.Vault
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerRequest{
		Email: "other@example.com", Password: "another password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email: "other@example.com", Password: "another password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var otherAuth authResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &otherAuth))

	rec = s.do(t, http.MethodGet, "/api/v1/vaults/"+v.ID, otherAuth.AccessToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VAULT_NOT_FOUND", body.Code)
}

func TestDeleteAccount_RemovesAccount(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/v1/vaults", token, createVaultRequest{
		Name: "notes", EncryptedKey: "k", KeyNonce: "n",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/account", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/account", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
