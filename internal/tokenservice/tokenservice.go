// Package tokenservice issues and verifies the HMAC-SHA256 signed
// access and refresh tokens used to authenticate sync requests (§4.2).
// Signing follows the JWT envelope: header {alg: HS256, typ: JWT},
// payload, signature over base64url(header) "." base64url(payload).
package tokenservice

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope values carried on an access token.
const (
	ScopeSyncRead  = "sync:read"
	ScopeSyncWrite = "sync:write"
)

const (
	// AccessTokenTTL is the lifetime of an issued access token.
	AccessTokenTTL = 24 * time.Hour
	// RefreshTokenTTL is the lifetime of an issued refresh token.
	RefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenType = "refresh"
)

var (
	// ErrInvalidToken covers malformed structure and bad signatures.
	ErrInvalidToken = errors.New("tokenservice: invalid token")
	// ErrTokenExpired is returned by Verify when exp <= now.
	ErrTokenExpired = errors.New("tokenservice: token expired")
	// ErrWrongTokenType is returned when an access token is presented
	// where a refresh token is required, or vice versa.
	ErrWrongTokenType = errors.New("tokenservice: wrong token type")
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	DeviceID string   `json:"device_id"`
	Scope    []string `json:"scope"`
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
}

// Service signs and verifies tokens with a single process-wide secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// New builds a Service. secret is the HMAC signing key; it is a
// configuration value and has a documented default only for
// development deployments (config.Load falls back to a built-in
// development secret when auth.jwt_secret is empty).
func New(secret string) *Service {
	return &Service{secret: []byte(secret), now: time.Now}
}

// IssueAccessToken signs a new access token for (userID, deviceID).
func (s *Service) IssueAccessToken(userID, deviceID string) (string, error) {
	now := s.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		DeviceID: deviceID,
		Scope:    []string{ScopeSyncRead, ScopeSyncWrite},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// IssueRefreshToken signs a new refresh token for (userID, deviceID).
func (s *Service) IssueRefreshToken(userID, deviceID string) (string, error) {
	now := s.now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenTTL)),
		},
		DeviceID: deviceID,
		Type:     refreshTokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyAccess verifies signature, structure, and expiry of an access token.
func (s *Service) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parseVerified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh verifies signature, structure, and expiry of a refresh
// token, and that its type claim is "refresh".
func (s *Service) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parseVerified(token, claims); err != nil {
		return nil, err
	}
	if claims.Type != refreshTokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (s *Service) parseVerified(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	return nil
}

// DecodeRefreshUnverified returns a refresh token's claims without
// verifying its signature. Used solely to locate the session row for a
// claimed refresh token before that row's stored hash is checked; the
// signature is still verified afterward via VerifyRefresh.
func (s *Service) DecodeRefreshUnverified(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
