// Package api is the HTTP Dispatcher (§6): it maps the wire protocol's
// /api/v1 routes onto the Auth, Vault, Sync Engine and File Transfer
// services, translating every apierror.Error into the {error, code}
// envelope and status code the protocol names.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/auth"
	"github.com/DevNvll/echopad/internal/middleware"
	"github.com/DevNvll/echopad/internal/syncengine"
	"github.com/DevNvll/echopad/internal/tokenservice"
	"github.com/DevNvll/echopad/internal/transfer"
	"github.com/DevNvll/echopad/internal/vault"
)

// Handler wires the Sync Core's services onto HTTP routes.
type Handler struct {
	auth     *auth.Service
	vaults   *vault.Service
	sync     *syncengine.Service
	transfer *transfer.Service
	tokens   *tokenservice.Service
	logger   *logrus.Logger
}

func NewHandler(authSvc *auth.Service, vaultSvc *vault.Service, syncSvc *syncengine.Service, transferSvc *transfer.Service, tokens *tokenservice.Service, logger *logrus.Logger) *Handler {
	return &Handler{auth: authSvc, vaults: vaultSvc, sync: syncSvc, transfer: transferSvc, tokens: tokens, logger: logger}
}

// RegisterRoutes mounts every /api/v1 route plus the unauthenticated
// /health and /metrics endpoints.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())

	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/auth/salt", h.handleSalt).Methods(http.MethodGet)
	v1.HandleFunc("/auth/register", h.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", h.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/auth/oauth/google", h.handleOAuthGoogle).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", h.withAuth(h.handleLogout)).Methods(http.MethodPost)
	v1.HandleFunc("/auth/mfa/enroll", h.withAuth(h.handleMFAEnroll)).Methods(http.MethodPost)
	v1.HandleFunc("/auth/mfa/confirm", h.withAuth(h.handleMFAConfirm)).Methods(http.MethodPost)
	v1.HandleFunc("/auth/mfa/disable", h.withAuth(h.handleMFADisable)).Methods(http.MethodPost)

	v1.HandleFunc("/devices", h.withAuth(h.handleListDevices)).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{device_id}", h.withAuth(h.handleRevokeDevice)).Methods(http.MethodDelete)

	v1.HandleFunc("/vaults", h.withAuth(h.handleListVaults)).Methods(http.MethodGet)
	v1.HandleFunc("/vaults", h.withAuth(h.handleCreateVault)).Methods(http.MethodPost)
	v1.HandleFunc("/vaults/{vault_id}", h.withAuth(h.handleGetVault)).Methods(http.MethodGet)
	v1.HandleFunc("/vaults/{vault_id}", h.withAuth(h.handleDeleteVault)).Methods(http.MethodDelete)
	v1.HandleFunc("/vaults/{vault_id}/key", h.withAuth(h.handleGetVaultKey)).Methods(http.MethodGet)
	v1.HandleFunc("/vaults/{vault_id}/key", h.withAuth(h.handlePutVaultKey)).Methods(http.MethodPut)

	v1.HandleFunc("/vaults/{vault_id}/sync/pull", h.withAuth(h.handleSyncPull)).Methods(http.MethodPost)
	v1.HandleFunc("/vaults/{vault_id}/sync/push", h.withAuth(h.handleSyncPush)).Methods(http.MethodPost)
	v1.HandleFunc("/vaults/{vault_id}/sync/confirm", h.withAuth(h.handleSyncConfirm)).Methods(http.MethodPost)
	v1.HandleFunc("/vaults/{vault_id}/sync/status", h.withAuth(h.handleSyncStatus)).Methods(http.MethodGet)

	v1.HandleFunc("/vaults/{vault_id}/files/{file_id}/upload", h.withAuth(h.handleUpload)).Methods(http.MethodPut)
	v1.HandleFunc("/vaults/{vault_id}/files/{file_id}/download", h.withAuth(h.handleDownload)).Methods(http.MethodGet)
	v1.HandleFunc("/vaults/{vault_id}/files/{file_id}", h.withAuth(h.handleDeleteFile)).Methods(http.MethodDelete)

	v1.HandleFunc("/account", h.withAuth(h.handleGetAccount)).Methods(http.MethodGet)
	v1.HandleFunc("/account", h.withAuth(h.handleDeleteAccount)).Methods(http.MethodDelete)
	v1.HandleFunc("/account/usage", h.withAuth(h.handleUsage)).Methods(http.MethodGet)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "timestamp": unixNow()})
}

// --- bearer auth ---

// authedHandler receives the bearer token's verified subject and
// device claims alongside the usual request/response pair.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID, deviceID string)

func (h *Handler) withAuth(fn authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierror.MissingToken())
			return
		}
		claims, err := h.tokens.VerifyAccess(token)
		if err != nil {
			writeError(w, apierror.InvalidToken())
			return
		}
		fn(w, r, claims.Subject, claims.DeviceID)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// --- auth ---

func (h *Handler) handleSalt(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	salt, err := h.auth.Salt(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"salt": salt})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.auth.Register(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountDTO(user))
}

type deviceInfoRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	Type        string `json:"type"`
}

func (d deviceInfoRequest) toDeviceInfo() auth.DeviceInfo {
	return auth.DeviceInfo{Fingerprint: d.Fingerprint, Name: d.Name, Type: d.Type}
}

type loginRequest struct {
	Email            string            `json:"email"`
	Password         string            `json:"password"`
	TOTPCode         string            `json:"totp_code"`
	IdentityProvider string            `json:"identity_provider"`
	Device           deviceInfoRequest `json:"device"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ip := clientIP(r)
	var result *auth.AuthResult
	var err error
	if req.IdentityProvider == auth.IdentityLDAP {
		result, err = h.auth.LoginLDAP(r.Context(), req.Email, req.Password, req.Device.toDeviceInfo(), ip)
	} else {
		result, err = h.auth.Login(r.Context(), req.Email, req.Password, req.TOTPCode, req.Device.toDeviceInfo(), ip)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResultDTO(result))
}

type oauthGoogleRequest struct {
	Code   string            `json:"code"`
	Device deviceInfoRequest `json:"device"`
}

func (h *Handler) handleOAuthGoogle(w http.ResponseWriter, r *http.Request) {
	var req oauthGoogleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.LoginOAuthGoogle(r.Context(), req.Code, req.Device.toDeviceInfo(), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResultDTO(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResultDTO(result))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMFAEnroll(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	account, err := h.auth.Account(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	enrollment, err := h.auth.MFAEnroll(r.Context(), userID, account.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleMFAConfirm(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req mfaConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.MFAConfirm(r.Context(), userID, req.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mfaDisableRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleMFADisable(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req mfaDisableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.MFADisable(r.Context(), userID, req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- devices ---

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	devices, err := h.auth.ListDevices(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]deviceDTO, len(devices))
	for i, d := range devices {
		dtos[i] = deviceDTO{
			ID: d.ID, Name: d.DeviceName, Type: d.DeviceType,
			CreatedAt: d.CreatedAt, RevokedAt: d.RevokedAt, IsCurrent: d.ID == deviceID,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": dtos})
}

func (h *Handler) handleRevokeDevice(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	target := mux.Vars(r)["device_id"]
	if err := h.auth.RevokeDevice(r.Context(), userID, target, deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- vaults ---

func (h *Handler) handleListVaults(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	vaults, err := h.vaults.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vaults": vaults})
}

type createVaultRequest struct {
	Name         string `json:"name"`
	EncryptedKey string `json:"encrypted_key"`
	KeyNonce     string `json:"key_nonce"`
}

func (h *Handler) handleCreateVault(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req createVaultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := h.vaults.Create(r.Context(), userID, req.Name, req.EncryptedKey, req.KeyNonce)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleGetVault(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	v, err := h.vaults.Get(r.Context(), mux.Vars(r)["vault_id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleDeleteVault(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	if err := h.vaults.Delete(r.Context(), mux.Vars(r)["vault_id"], userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetVaultKey(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	key, err := h.vaults.GetKey(r.Context(), mux.Vars(r)["vault_id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type putVaultKeyRequest struct {
	TargetUserID string `json:"target_user_id"`
	EncryptedKey string `json:"encrypted_key"`
	KeyNonce     string `json:"key_nonce"`
}

func (h *Handler) handlePutVaultKey(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req putVaultKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	vaultID := mux.Vars(r)["vault_id"]
	target := req.TargetUserID
	if target == "" {
		target = userID
	}
	if err := h.vaults.PutKey(r.Context(), vaultID, userID, target, req.EncryptedKey, req.KeyNonce); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- sync ---

type syncPullRequest struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

func (h *Handler) handleSyncPull(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req syncPullRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.sync.Pull(r.Context(), mux.Vars(r)["vault_id"], userID, req.Cursor, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncPushRequest struct {
	Changes []syncengine.Change `json:"changes"`
}

func (h *Handler) handleSyncPush(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req syncPushRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, apierror.InvalidChanges("changes must not be empty"))
		return
	}
	results, err := h.sync.Push(r.Context(), mux.Vars(r)["vault_id"], userID, req.Changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type syncConfirmRequest struct {
	FileIDs []string `json:"file_ids"`
}

func (h *Handler) handleSyncConfirm(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	var req syncConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.FileIDs) == 0 {
		writeError(w, apierror.InvalidFileIDs("file_ids must not be empty"))
		return
	}
	result, err := h.sync.Confirm(r.Context(), mux.Vars(r)["vault_id"], userID, req.FileIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	result, err := h.sync.Status(r.Context(), mux.Vars(r)["vault_id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- file transfer ---

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	vars := mux.Vars(r)
	result, err := h.transfer.Upload(r.Context(), vars["vault_id"], vars["file_id"], userID, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content_hash": result.EncryptedContentHash,
		"size_bytes":   result.SizeBytes,
	})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	vars := mux.Vars(r)
	result, err := h.transfer.Download(r.Context(), vars["vault_id"], vars["file_id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("X-File-Hash", result.ContentHash)
	w.Header().Set("X-File-Version", strconv.FormatInt(result.Version, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	copyBody(w, result.Body, h.logger)
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	vars := mux.Vars(r)
	if err := h.transfer.Delete(r.Context(), vars["vault_id"], vars["file_id"], userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- account ---

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	account, err := h.auth.Account(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(account))
}

// handleDeleteAccount cascades through every vault the user owns
// before dropping the users row, so no vault ever outlives its owner.
func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	ctx := r.Context()
	vaults, err := h.vaults.List(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, v := range vaults {
		if err := h.vaults.Delete(ctx, v.ID, userID); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := h.auth.DeleteAccount(ctx, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	quotaBytes, usedBytes, err := h.auth.Usage(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"storage_quota_bytes": quotaBytes,
		"storage_used_bytes":  usedBytes,
	})
}

// --- DTOs ---

type deviceDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	RevokedAt *int64 `json:"revoked_at,omitempty"`
	IsCurrent bool   `json:"is_current"`
}

type accountResponse struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	SubscriptionTier  string `json:"subscription_tier"`
	StorageQuotaBytes int64  `json:"storage_quota_bytes"`
	StorageUsedBytes  int64  `json:"storage_used_bytes"`
	MFAEnabled        bool   `json:"mfa_enabled"`
	IdentityProvider  string `json:"identity_provider"`
	CreatedAt         int64  `json:"created_at"`
}

func accountDTO(u *auth.User) accountResponse {
	return accountResponse{
		ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified,
		SubscriptionTier: u.SubscriptionTier, StorageQuotaBytes: u.StorageQuotaBytes,
		StorageUsedBytes: u.StorageUsedBytes, MFAEnabled: u.MFAEnabled,
		IdentityProvider: u.IdentityProvider, CreatedAt: u.CreatedAt,
	}
}

type authResultResponse struct {
	User         accountResponse `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

func authResultDTO(r *auth.AuthResult) authResultResponse {
	return authResultResponse{User: accountDTO(r.User), AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}
