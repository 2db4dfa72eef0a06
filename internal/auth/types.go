// Package auth implements the Auth Service: account registration and
// login, refresh-token rotation, logout, enumeration-safe salt lookup,
// TOTP 2FA, and team-tier federated login (LDAP, Google OAuth).
package auth

import (
	"errors"
	"regexp"
)

// User is a row of the users table.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	PasswordAlgo      string
	Salt              string
	EmailVerified     bool
	SubscriptionTier  string
	StorageQuotaBytes int64
	StorageUsedBytes  int64
	MFAEnabled        bool
	MFASecret         string
	IdentityProvider  string
	CreatedAt         int64
	UpdatedAt         int64
}

// Device is a row of the devices table.
type Device struct {
	ID          string
	UserID      string
	DeviceName  string
	DeviceType  string
	Fingerprint string
	PublicKey   string
	LastSyncAt  *int64
	CreatedAt   int64
	RevokedAt   *int64
}

// Session is a row of the sessions table: one per login. Refresh
// rotates RefreshTokenHash in place on the same row.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	RefreshTokenHash string
	ExpiresAt        int64
	RevokedAt        *int64
	CreatedAt        int64
}

const (
	SubscriptionFree = "free"
	SubscriptionPro  = "pro"
	SubscriptionTeam = "team"

	IdentityLocal  = "local"
	IdentityLDAP   = "ldap"
	IdentityGoogle = "google"
)

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func isValidEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

var errUnexpected = errors.New("auth: unexpected internal error")
