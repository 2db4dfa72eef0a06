// Package apierror is the one error vocabulary every Sync Core service
// (auth, vault, syncengine, transfer) returns instead of raw Go errors,
// so the HTTP Dispatcher can map every failure to a status code and a
// stable machine-readable code without type-switching on each service.
package apierror

import "net/http"

// Error is a named, client-facing API error. It satisfies the error
// interface so service methods can return it directly.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Status     int    `json:"-"`
	RetryAfter int64  `json:"-"` // seconds; set only on CodeRateLimited
}

func (e *Error) Error() string { return e.Message }

func New(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Named error codes carried in the code field of error responses.
// CONFLICT, QUOTA_EXCEEDED, HASH_MISMATCH, BLOB_MISSING and FORBIDDEN
// are defined but no service currently returns them.
const (
	CodeInvalidJSON       = "INVALID_JSON"
	CodeMissingFields     = "MISSING_FIELDS"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodePasswordTooShort  = "PASSWORD_TOO_SHORT"
	CodeEmailExists       = "EMAIL_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeRateLimited       = "RATE_LIMITED"
	CodeVaultNotFound     = "VAULT_NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeHashMismatch      = "HASH_MISMATCH"
	CodeBlobMissing       = "BLOB_MISSING"
	CodeForbidden         = "FORBIDDEN"
	CodeInternal          = "INTERNAL"

	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeContentNotFound    = "CONTENT_NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidCursor      = "INVALID_CURSOR"
	CodeInvalidChanges     = "INVALID_CHANGES"
	CodeInvalidFileIDs     = "INVALID_FILE_IDS"
	CodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeCannotRevokeCurrent = "CANNOT_REVOKE_CURRENT"

	// SPEC_FULL ADDED codes.
	CodeMFARequired         = "MFA_REQUIRED"
	CodeMFAInvalid          = "MFA_INVALID"
	CodeMFAAlreadyEnabled   = "MFA_ALREADY_ENABLED"
	CodeMFANotEnabled       = "MFA_NOT_ENABLED"
	CodeLDAPUnavailable     = "LDAP_UNAVAILABLE"
	CodeOAuthExchangeFailed = "OAUTH_EXCHANGE_FAILED"
)

func InvalidJSON(msg string) *Error {
	return New(http.StatusBadRequest, CodeInvalidJSON, msg)
}

func MissingFields(msg string) *Error {
	return New(http.StatusBadRequest, CodeMissingFields, msg)
}

func InvalidEmail() *Error {
	return New(http.StatusBadRequest, CodeInvalidEmail, "email address is not valid")
}

func PasswordTooShort() *Error {
	return New(http.StatusBadRequest, CodePasswordTooShort, "password must be at least 8 characters")
}

func EmailExists() *Error {
	return New(http.StatusConflict, CodeEmailExists, "an account with this email already exists")
}

func InvalidCredentials() *Error {
	return New(http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
}

func InvalidToken() *Error {
	return New(http.StatusUnauthorized, CodeInvalidToken, "token is invalid or expired")
}

func RateLimited(retryAfterSeconds int64) *Error {
	e := New(http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later")
	e.RetryAfter = retryAfterSeconds
	return e
}

func VaultNotFound() *Error {
	return New(http.StatusNotFound, CodeVaultNotFound, "vault not found")
}

func FileNotFound() *Error {
	return New(http.StatusNotFound, CodeFileNotFound, "file not found")
}

func Conflict(msg string) *Error {
	return New(http.StatusConflict, CodeConflict, msg)
}

func QuotaExceeded() *Error {
	return New(http.StatusInsufficientStorage, CodeQuotaExceeded, "storage quota exceeded")
}

func HashMismatch() *Error {
	return New(http.StatusBadRequest, CodeHashMismatch, "uploaded content hash does not match declared hash")
}

func BlobMissing() *Error {
	return New(http.StatusConflict, CodeBlobMissing, "blob content was never uploaded")
}

func Forbidden() *Error {
	return New(http.StatusForbidden, CodeForbidden, "access denied")
}

func Internal(msg string) *Error {
	return New(http.StatusInternalServerError, CodeInternal, msg)
}

func EmptyContent() *Error {
	return New(http.StatusBadRequest, CodeEmptyContent, "request body is empty")
}

func ContentNotFound() *Error {
	return New(http.StatusNotFound, CodeContentNotFound, "file content was never uploaded")
}

func Unauthorized() *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
}

func MissingToken() *Error {
	return New(http.StatusUnauthorized, CodeMissingToken, "bearer token is required")
}

func InvalidChanges(msg string) *Error {
	return New(http.StatusBadRequest, CodeInvalidChanges, msg)
}

func InvalidFileIDs(msg string) *Error {
	return New(http.StatusBadRequest, CodeInvalidFileIDs, msg)
}

func DeviceNotFound() *Error {
	return New(http.StatusNotFound, CodeDeviceNotFound, "device not found")
}

func UserNotFound() *Error {
	return New(http.StatusNotFound, CodeUserNotFound, "user not found")
}

func CannotRevokeCurrent() *Error {
	return New(http.StatusBadRequest, CodeCannotRevokeCurrent, "cannot revoke the device making this request")
}

func MFARequired() *Error {
	return New(http.StatusUnauthorized, CodeMFARequired, "multi-factor authentication code required")
}

func MFAInvalid() *Error {
	return New(http.StatusUnauthorized, CodeMFAInvalid, "multi-factor authentication code is invalid")
}

func MFAAlreadyEnabled() *Error {
	return New(http.StatusConflict, CodeMFAAlreadyEnabled, "multi-factor authentication is already enabled")
}

func MFANotEnabled() *Error {
	return New(http.StatusConflict, CodeMFANotEnabled, "multi-factor authentication is not enabled")
}

func LDAPUnavailable(msg string) *Error {
	return New(http.StatusBadGateway, CodeLDAPUnavailable, msg)
}

func OAuthExchangeFailed(msg string) *Error {
	return New(http.StatusBadGateway, CodeOAuthExchangeFailed, msg)
}
