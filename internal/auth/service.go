package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/idp"
	"github.com/DevNvll/echopad/internal/metrics"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/tokenservice"
)

// Service implements the Auth Service (§4.5), TOTP 2FA (§4.8) and
// federated login (§4.9) on top of the Metadata Store's users/devices/
// sessions/federated_identities tables.
type Service struct {
	repo    *Repository
	tokens  *tokenservice.Service
	limiter *ratelimit.Limiter
	audit   *audit.Manager
	logger  *logrus.Logger

	issuer      string
	quotaBytes  map[string]int64 // subscription tier -> default quota
	ldapConfig  *idp.LDAPConfig
	oauthConfig *idp.GoogleOAuthConfig

	now func() time.Time
}

// Options configures optional federated-login backends; either or both
// may be nil if the deployment has no LDAP directory / Google OAuth
// client configured.
type Options struct {
	Issuer      string
	FreeBytes   int64
	ProBytes    int64
	TeamBytes   int64
	LDAPConfig  *idp.LDAPConfig
	OAuthConfig *idp.GoogleOAuthConfig
}

func New(repo *Repository, tokens *tokenservice.Service, limiter *ratelimit.Limiter, auditor *audit.Manager, logger *logrus.Logger, opts Options) *Service {
	return &Service{
		repo:        repo,
		tokens:      tokens,
		limiter:     limiter,
		audit:       auditor,
		logger:      logger,
		issuer:      opts.Issuer,
		quotaBytes:  map[string]int64{SubscriptionFree: opts.FreeBytes, SubscriptionPro: opts.ProBytes, SubscriptionTeam: opts.TeamBytes},
		ldapConfig:  opts.LDAPConfig,
		oauthConfig: opts.OAuthConfig,
		now:         time.Now,
	}
}

// DeviceInfo identifies the client device presented at login/register.
type DeviceInfo struct {
	Fingerprint string
	Name        string
	Type        string
}

// AuthResult is returned by every operation that issues tokens.
type AuthResult struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

func (s *Service) checkRateLimit(ctx context.Context, action, identifier string) error {
	decision, err := s.limiter.Allow(action, identifier)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !decision.Allowed {
		metrics.RecordRateLimitRejected(action)
		return apierror.RateLimited(int64(decision.RetryAfter.Seconds()))
	}
	return nil
}

// Salt returns the salt to use for a client-side password KDF before
// login. To avoid leaking which emails are registered, an unknown
// email gets a deterministic pseudo-salt rather than an error.
func (s *Service) Salt(ctx context.Context, email string) (string, error) {
	if !isValidEmail(email) {
		return "", apierror.InvalidEmail()
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err == ErrNotFound {
		return pseudoSalt(email), nil
	}
	if err != nil {
		return "", fmt.Errorf("look up user for salt: %w", err)
	}
	if user.IdentityProvider == IdentityGoogle {
		return pseudoSalt(email), nil
	}
	return user.Salt, nil
}

// Register creates a new local account with a free-tier quota.
func (s *Service) Register(ctx context.Context, email, password, ip string) (*User, error) {
	if err := s.checkRateLimit(ctx, "register", ip); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, apierror.MissingFields("email and password are required")
	}
	if !isValidEmail(email) {
		return nil, apierror.InvalidEmail()
	}
	if len(password) < 8 {
		return nil, apierror.PasswordTooShort()
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, apierror.EmailExists()
	} else if err != ErrNotFound {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(password, salt)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	user := &User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		PasswordAlgo:      argonAlgo,
		Salt:              salt,
		SubscriptionTier:  SubscriptionFree,
		StorageQuotaBytes: s.quotaBytes[SubscriptionFree],
		IdentityProvider:  IdentityLocal,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user.ID, "", audit.ActionRegister, nil, ip, "")
	return user, nil
}

// Login verifies a local account's password (and TOTP code, if
// enabled) and issues a fresh token pair bound to the caller's device.
func (s *Service) Login(ctx context.Context, email, password, totpCode string, device DeviceInfo, ip string) (*AuthResult, error) {
	if err := s.checkRateLimit(ctx, "login", ip); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, apierror.MissingFields("email and password are required")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err == ErrNotFound {
		s.audit.Record(ctx, "", "", audit.ActionLoginFailed, map[string]interface{}{"email": email}, ip, "")
		return nil, apierror.InvalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if !verifyPassword(password, user.Salt, user.PasswordHash) {
		s.audit.Record(ctx, user.ID, "", audit.ActionLoginFailed, nil, ip, "")
		return nil, apierror.InvalidCredentials()
	}

	if user.MFAEnabled {
		if totpCode == "" {
			return nil, apierror.MFARequired()
		}
		if !verifyTOTPCode(user.MFASecret, totpCode) {
			s.audit.Record(ctx, user.ID, "", audit.ActionLoginFailed, map[string]interface{}{"reason": "mfa"}, ip, "")
			return nil, apierror.MFAInvalid()
		}
	}

	return s.issueSession(ctx, user, device, ip)
}

// issueSession resolves (or creates) the caller's device row, mints an
// access/refresh token pair, and persists the session backing the
// refresh token.
func (s *Service) issueSession(ctx context.Context, user *User, device DeviceInfo, ip string) (*AuthResult, error) {
	deviceRow, err := s.resolveDevice(ctx, user.ID, device)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(user.ID, deviceRow.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID, deviceRow.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := s.now()
	session := &Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		DeviceID:         deviceRow.ID,
		RefreshTokenHash: hashToken(refresh),
		ExpiresAt:        now.Add(tokenservice.RefreshTokenTTL).Unix(),
		CreatedAt:        now.Unix(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user.ID, deviceRow.ID, audit.ActionLogin, nil, ip, "")
	return &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// resolveDevice reuses an existing (user, fingerprint) device row when
// a fingerprint is supplied, else creates a fresh row — the Open
// Question on device identity (§9) resolved in favor of reuse since a
// desktop client's fingerprint is stable across logins, while a
// browser session with no fingerprint gets its own row per login.
func (s *Service) resolveDevice(ctx context.Context, userID string, info DeviceInfo) (*Device, error) {
	if info.Fingerprint != "" {
		existing, err := s.repo.GetDeviceByFingerprint(ctx, userID, info.Fingerprint)
		if err == nil {
			return existing, nil
		}
		if err != ErrNotFound {
			return nil, fmt.Errorf("look up device: %w", err)
		}
	}

	deviceType := info.Type
	if deviceType == "" {
		deviceType = "desktop"
	}
	d := &Device{
		ID:          uuid.NewString(),
		UserID:      userID,
		DeviceName:  info.Name,
		DeviceType:  deviceType,
		Fingerprint: info.Fingerprint,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.repo.CreateDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh verifies a refresh token's signature and its session row,
// then rotates to a new refresh token (invalidating the old one) and
// issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	// Decode without verifying first to find the claimed session row,
	// then verify signature and expiry before trusting anything in it.
	unverified, err := s.tokens.DecodeRefreshUnverified(refreshToken)
	if err != nil {
		return nil, apierror.InvalidToken()
	}

	session, err := s.findSessionByHash(ctx, unverified.Subject, hashToken(refreshToken))
	if err != nil {
		return nil, apierror.InvalidToken()
	}
	if session.RevokedAt != nil || session.ExpiresAt <= s.now().Unix() {
		return nil, apierror.InvalidToken()
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apierror.InvalidToken()
	}

	user, err := s.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, apierror.InvalidToken()
	}

	access, err := s.tokens.IssueAccessToken(user.ID, claims.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	newRefresh, err := s.tokens.IssueRefreshToken(user.ID, claims.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	expiresAt := s.now().Add(tokenservice.RefreshTokenTTL).Unix()
	if err := s.repo.ReplaceSessionHash(ctx, session.ID, hashToken(newRefresh), expiresAt); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, user.ID, claims.DeviceID, audit.ActionTokenRefresh, nil, "", "")
	return &AuthResult{User: user, AccessToken: access, RefreshToken: newRefresh}, nil
}

// findSessionByHash looks up a session by its stored refresh-token
// hash, scoped to the user named in the (unverified) token so the
// lookup never matches another account's sessions.
func (s *Service) findSessionByHash(ctx context.Context, userID, hash string) (*Session, error) {
	return s.repo.getSessionByUserAndHash(ctx, userID, hash)
}

// Logout revokes the session backing the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return apierror.InvalidToken()
	}
	session, err := s.findSessionByHash(ctx, claims.Subject, hashToken(refreshToken))
	if err != nil {
		return apierror.InvalidToken()
	}
	if err := s.repo.RevokeSession(ctx, session.ID, s.now().Unix()); err != nil {
		return err
	}
	s.audit.Record(ctx, claims.Subject, claims.DeviceID, audit.ActionLogout, nil, "", "")
	return nil
}

// MFAEnroll generates a new TOTP secret and stores it unconfirmed
// (mfa_enabled stays false until MFAConfirm validates a code against
// it).
func (s *Service) MFAEnroll(ctx context.Context, userID, email string) (*TOTPEnrollment, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, apierror.InvalidToken()
	}
	if user.MFAEnabled {
		return nil, apierror.MFAAlreadyEnabled()
	}

	enrollment, err := generateTOTPSecret(email, s.issuer)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateUserMFA(ctx, userID, false, enrollment.Secret, s.now().Unix()); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// MFAConfirm validates a code against the pending secret stored by
// MFAEnroll and flips mfa_enabled on.
func (s *Service) MFAConfirm(ctx context.Context, userID, code string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return apierror.InvalidToken()
	}
	if user.MFAEnabled {
		return apierror.MFAAlreadyEnabled()
	}
	if user.MFASecret == "" || !verifyTOTPCode(user.MFASecret, code) {
		return apierror.MFAInvalid()
	}
	if err := s.repo.UpdateUserMFA(ctx, userID, true, user.MFASecret, s.now().Unix()); err != nil {
		return err
	}
	s.audit.Record(ctx, userID, "", audit.ActionMFAEnrolled, nil, "", "")
	return nil
}

// MFADisable requires the account password (not just a bearer token)
// so a stolen access token alone can't turn off 2FA.
func (s *Service) MFADisable(ctx context.Context, userID, password string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return apierror.InvalidToken()
	}
	if !user.MFAEnabled {
		return apierror.MFANotEnabled()
	}
	if !verifyPassword(password, user.Salt, user.PasswordHash) {
		return apierror.InvalidCredentials()
	}
	if err := s.repo.UpdateUserMFA(ctx, userID, false, "", s.now().Unix()); err != nil {
		return err
	}
	s.audit.Record(ctx, userID, "", audit.ActionMFADisabled, nil, "", "")
	return nil
}

// LoginLDAP authenticates against the configured directory (§4.9,
// team tier only) and auto-provisions a local user row the first time
// a given email signs in, linked via federated_identities.
func (s *Service) LoginLDAP(ctx context.Context, email, password string, device DeviceInfo, ip string) (*AuthResult, error) {
	if s.ldapConfig == nil {
		return nil, apierror.LDAPUnavailable("LDAP login is not configured")
	}
	if err := s.checkRateLimit(ctx, "login", ip); err != nil {
		return nil, err
	}
	if err := idp.AuthenticateLDAP(*s.ldapConfig, email, password); err != nil {
		s.logger.WithError(err).Warn("LDAP authentication failed")
		return nil, apierror.InvalidCredentials()
	}

	user, err := s.findOrCreateFederatedUser(ctx, IdentityLDAP, email, email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user, device, ip)
}

// LoginOAuthGoogle exchanges an authorization code for the caller's
// verified Google email and auto-provisions a local user the same way
// LoginLDAP does.
func (s *Service) LoginOAuthGoogle(ctx context.Context, code string, device DeviceInfo, ip string) (*AuthResult, error) {
	if s.oauthConfig == nil {
		return nil, apierror.OAuthExchangeFailed("Google OAuth login is not configured")
	}
	if err := s.checkRateLimit(ctx, "login", ip); err != nil {
		return nil, err
	}

	email, err := idp.ExchangeGoogleCode(ctx, *s.oauthConfig, code)
	if err != nil {
		s.logger.WithError(err).Warn("Google OAuth exchange failed")
		return nil, apierror.OAuthExchangeFailed(err.Error())
	}

	user, err := s.findOrCreateFederatedUser(ctx, IdentityGoogle, email, email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user, device, ip)
}

func (s *Service) findOrCreateFederatedUser(ctx context.Context, provider, subject, email string) (*User, error) {
	userID, err := s.repo.GetFederatedIdentity(ctx, provider, subject)
	if err == nil {
		return s.repo.GetUserByID(ctx, userID)
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("look up federated identity: %w", err)
	}

	// No password is ever set for a federated account; a random salt
	// and an unusable hash keep the users table's NOT NULL columns
	// satisfied without creating a usable local-login credential.
	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	user := &User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      "!federated",
		PasswordAlgo:      argonAlgo,
		Salt:              salt,
		EmailVerified:     true,
		SubscriptionTier:  SubscriptionTeam,
		StorageQuotaBytes: s.quotaBytes[SubscriptionTeam],
		IdentityProvider:  provider,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := s.repo.CreateFederatedIdentity(ctx, uuid.NewString(), user.ID, provider, subject, now); err != nil {
		return nil, err
	}
	return user, nil
}

// ListDevices returns every device registered to a user.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	devices, err := s.repo.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// RevokeDevice revokes a device and every session bound to it. A
// device can't revoke itself mid-request: that would invalidate the
// very token authorizing the call.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceID, callerDeviceID string) error {
	if deviceID == callerDeviceID {
		return apierror.CannotRevokeCurrent()
	}
	device, err := s.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return apierror.DeviceNotFound()
	}
	if device.UserID != userID {
		return apierror.DeviceNotFound()
	}
	if err := s.repo.RevokeDevice(ctx, deviceID, s.now().Unix()); err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	s.audit.Record(ctx, userID, deviceID, audit.ActionDeviceRevoked, nil, "", "")
	return nil
}

// Usage reports a user's storage quota and current usage.
func (s *Service) Usage(ctx context.Context, userID string) (quotaBytes, usedBytes int64, err error) {
	quotaBytes, usedBytes, err = s.repo.GetQuota(ctx, userID)
	if err == ErrNotFound {
		return 0, 0, apierror.UserNotFound()
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get usage: %w", err)
	}
	return quotaBytes, usedBytes, nil
}

// Account returns the caller's own user row.
func (s *Service) Account(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err == ErrNotFound {
		return nil, apierror.UserNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return user, nil
}

// DeleteAccount removes the user row. Vault and file teardown is the
// caller's responsibility (the HTTP dispatcher cascades through the
// vault service before calling this), keeping this service focused on
// the users table it owns.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.audit.Record(ctx, userID, "", audit.ActionAccountDeleted, nil, "", "")
	return nil
}

// QuotaUsageByTier aggregates storage usage across all users grouped
// by subscription tier, for periodic sampling into the
// storage_quota_used_bytes metrics gauge (§4.10).
func (s *Service) QuotaUsageByTier(ctx context.Context) (map[string]int64, error) {
	return s.repo.SumUsageByTier(ctx)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
