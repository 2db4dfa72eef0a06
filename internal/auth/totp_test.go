package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

// totpCodeForTest computes a valid current-period code for secret, for
// tests that need to drive the enroll -> confirm -> login-gated flow
// without a real authenticator app.
func totpCodeForTest(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

func TestGenerateTOTPSecret(t *testing.T) {
	enrollment, err := generateTOTPSecret("alice@example.com", "echopad")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.NotEmpty(t, enrollment.QRCode)
	require.Contains(t, enrollment.URL, "otpauth://")
}

func TestVerifyTOTPCode(t *testing.T) {
	enrollment, err := generateTOTPSecret("alice@example.com", "echopad")
	require.NoError(t, err)

	code, err := totpCodeForTest(enrollment.Secret)
	require.NoError(t, err)
	require.True(t, verifyTOTPCode(enrollment.Secret, code))
	require.False(t, verifyTOTPCode(enrollment.Secret, "000000"))
}
