package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

// TOTPEnrollment is what a client needs to add the account to an
// authenticator app: the raw secret (for manual entry) and a QR code
// encoding the otpauth:// URL.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	QRCode []byte `json:"qr_code"`
	URL    string `json:"otpauth_url"`
}

// generateTOTPSecret creates a new, unconfirmed TOTP secret for a
// user. MFAEnroll stores it with mfa_enabled still false; MFA is only
// switched on once MFAConfirm verifies a code against it (§4.8: enroll
// then confirm, two separate steps).
func generateTOTPSecret(email, issuer string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate TOTP key: %w", err)
	}

	qr, err := qrcode.Encode(key.String(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("generate QR code: %w", err)
	}

	return &TOTPEnrollment{Secret: key.Secret(), QRCode: qr, URL: key.URL()}, nil
}

// verifyTOTPCode checks code against secret, allowing +/-1 period of
// clock skew.
func verifyTOTPCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
