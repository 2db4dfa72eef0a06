package tokenservice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	svc := New("test-secret")

	token, err := svc.IssueAccessToken("user-1", "device-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Contains(t, claims.Scope, ScopeSyncRead)
	assert.Contains(t, claims.Scope, ScopeSyncWrite)
}

func TestIssueAndVerifyRefreshToken(t *testing.T) {
	svc := New("test-secret")

	token, err := svc.IssueRefreshToken("user-1", "device-1")
	require.NoError(t, err)

	claims, err := svc.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "refresh", claims.Type)
}

func TestVerifyAccess_AcceptsRefreshToken(t *testing.T) {
	svc := New("test-secret")

	token, err := svc.IssueRefreshToken("user-1", "device-1")
	require.NoError(t, err)

	// Refresh and access claims share no required field that would
	// fail structurally; VerifyAccess only checks signature/expiry, so
	// callers must route by endpoint. VerifyRefresh enforces the type.
	_, err = svc.VerifyAccess(token)
	assert.NoError(t, err)
}

func TestVerifyRefresh_RejectsAccessToken(t *testing.T) {
	svc := New("test-secret")

	token, err := svc.IssueAccessToken("user-1", "device-1")
	require.NoError(t, err)

	_, err = svc.VerifyRefresh(token)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	svc := New("test-secret")
	other := New("different-secret")

	token, err := other.IssueAccessToken("user-1", "device-1")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsMalformedToken(t *testing.T) {
	svc := New("test-secret")

	_, err := svc.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	svc := New("test-secret")
	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

	token, err := svc.IssueAccessToken("user-1", "device-1")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestDecodeRefreshUnverified_DoesNotCheckSignature(t *testing.T) {
	svc := New("test-secret")
	other := New("different-secret")

	token, err := other.IssueRefreshToken("user-1", "device-1")
	require.NoError(t, err)

	claims, err := svc.DecodeRefreshUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	_, err = svc.VerifyRefresh(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
