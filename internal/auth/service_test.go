package auth

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/db/migrations"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/tokenservice"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	require.NoError(t, migrations.NewMigrationManager(db, logger).Migrate())

	repo := NewRepository(db)
	tokens := tokenservice.New("test-secret")
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	auditor := audit.NewManager(audit.NewSQLiteStore(db, logger), logger)

	return New(repo, tokens, limiter, auditor, logger, Options{
		Issuer:    "echopad",
		FreeBytes: 100 * 1024 * 1024,
		ProBytes:  10 * 1024 * 1024 * 1024,
		TeamBytes: 100 * 1024 * 1024 * 1024,
	})
}

func TestRegister_Success(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, SubscriptionFree, user.SubscriptionTier)
	require.Equal(t, int64(100*1024*1024), user.StorageQuotaBytes)
}

func TestRegister_RejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice@example.com", "another-pass", "127.0.0.2")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeEmailExists, apiErr.Code)
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "bob@example.com", "short", "127.0.0.1")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodePasswordTooShort, apiErr.Code)
}

func TestRegister_RejectsInvalidEmail(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "not-an-email", "correct-horse", "127.0.0.1")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeInvalidEmail, apiErr.Code)
}

func TestLogin_Success(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	result, err := svc.Login(ctx, "alice@example.com", "correct-horse", "", DeviceInfo{Name: "laptop"}, "127.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password", "", DeviceInfo{}, "127.0.0.1")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeInvalidCredentials, apiErr.Code)
}

func TestLogin_ReusesDeviceByFingerprint(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	device := DeviceInfo{Fingerprint: "fp-123", Name: "laptop"}
	first, err := svc.Login(ctx, "alice@example.com", "correct-horse", "", device, "127.0.0.1")
	require.NoError(t, err)

	second, err := svc.Login(ctx, "alice@example.com", "correct-horse", "", device, "127.0.0.1")
	require.NoError(t, err)

	firstClaims, err := svc.tokens.VerifyAccess(first.AccessToken)
	require.NoError(t, err)
	secondClaims, err := svc.tokens.VerifyAccess(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, firstClaims.DeviceID, secondClaims.DeviceID)
}

func TestRefresh_RotatesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)
	login, err := svc.Login(ctx, "alice@example.com", "correct-horse", "", DeviceInfo{}, "127.0.0.1")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The old refresh token's session row has been rotated away.
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
}

func TestLogout_RevokesSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)
	login, err := svc.Login(ctx, "alice@example.com", "correct-horse", "", DeviceInfo{}, "127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.RefreshToken))

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
}

func TestSalt_UnknownEmailReturnsPseudoSalt(t *testing.T) {
	svc := newTestService(t)
	salt, err := svc.Salt(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	require.Equal(t, pseudoSalt("nobody@example.com"), salt)
}

func TestSalt_KnownEmailReturnsRealSalt(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	salt, err := svc.Salt(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, user.Salt, salt)
}

func TestMFAEnrollConfirmAndLoginGating(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)

	enrollment, err := svc.MFAEnroll(ctx, user.ID, user.Email)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)

	code, err := totpCodeForTest(enrollment.Secret)
	require.NoError(t, err)
	require.NoError(t, svc.MFAConfirm(ctx, user.ID, code))

	_, err = svc.Login(ctx, "alice@example.com", "correct-horse", "", DeviceInfo{}, "127.0.0.1")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeMFARequired, apiErr.Code)

	code, err = totpCodeForTest(enrollment.Secret)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "alice@example.com", "correct-horse", code, DeviceInfo{}, "127.0.0.1")
	require.NoError(t, err)
}

func TestMFADisable_RequiresPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "correct-horse", "127.0.0.1")
	require.NoError(t, err)
	enrollment, err := svc.MFAEnroll(ctx, user.ID, user.Email)
	require.NoError(t, err)
	code, err := totpCodeForTest(enrollment.Secret)
	require.NoError(t, err)
	require.NoError(t, svc.MFAConfirm(ctx, user.ID, code))

	err = svc.MFADisable(ctx, user.ID, "wrong-password")
	apiErr, ok := err.(*apierror.Error)
	require.True(t, ok)
	require.Equal(t, apierror.CodeInvalidCredentials, apiErr.Code)

	require.NoError(t, svc.MFADisable(ctx, user.ID, "correct-horse"))
}
