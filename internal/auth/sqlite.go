package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by repository lookups that find no row.
var ErrNotFound = errors.New("auth: not found")

// Repository is the Metadata Store access layer for users, devices,
// sessions and federated_identities. It wraps the same *sql.DB handle
// every other Sync Core service uses; internal/db/migrations owns the
// schema.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, password_algo, salt, email_verified,
			subscription_tier, storage_quota_bytes, storage_used_bytes, mfa_enabled, mfa_secret,
			identity_provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.PasswordAlgo, u.Salt, boolToInt(u.EmailVerified),
		u.SubscriptionTier, u.StorageQuotaBytes, u.StorageUsedBytes, boolToInt(u.MFAEnabled),
		nullable(u.MFASecret), u.IdentityProvider, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, userSelect+" WHERE email = ?", email))
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, userSelect+" WHERE id = ?", id))
}

const userSelect = `
	SELECT id, email, password_hash, password_algo, salt, email_verified,
		subscription_tier, storage_quota_bytes, storage_used_bytes, mfa_enabled, mfa_secret,
		identity_provider, created_at, updated_at
	FROM users`

func (r *Repository) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var mfaSecret sql.NullString
	var emailVerified, mfaEnabled int
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PasswordAlgo, &u.Salt, &emailVerified,
		&u.SubscriptionTier, &u.StorageQuotaBytes, &u.StorageUsedBytes, &mfaEnabled, &mfaSecret,
		&u.IdentityProvider, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.EmailVerified = emailVerified != 0
	u.MFAEnabled = mfaEnabled != 0
	u.MFASecret = mfaSecret.String
	return u, nil
}

func (r *Repository) UpdateUserMFA(ctx context.Context, userID string, enabled bool, secret string, updatedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_enabled = ?, mfa_secret = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), nullable(secret), updatedAt, userID)
	if err != nil {
		return fmt.Errorf("update user mfa: %w", err)
	}
	return nil
}

func (r *Repository) UpdateUserPassword(ctx context.Context, userID, passwordHash string, updatedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, updatedAt, userID)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

// GetQuota returns a user's configured quota and current usage without
// pulling the full User row, for callers (the sync engine, file
// transfer) that only need the two numbers to make an accept/reject
// decision.
func (r *Repository) GetQuota(ctx context.Context, userID string) (quotaBytes, usedBytes int64, err error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = ?`, userID)
	if err := row.Scan(&quotaBytes, &usedBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("get quota: %w", err)
	}
	return quotaBytes, usedBytes, nil
}

// AddUsage satisfies syncengine.QuotaStore/transfer.QuotaStore so the
// sync engine and file transfer services can share this repository's
// users-table handle directly instead of each opening their own.
func (r *Repository) AddUsage(ctx context.Context, userID string, deltaBytes int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET storage_used_bytes = storage_used_bytes + ? WHERE id = ?`,
		deltaBytes, userID)
	if err != nil {
		return fmt.Errorf("update user usage: %w", err)
	}
	return nil
}

// SumUsageByTier aggregates storage_used_bytes across all users,
// grouped by subscription_tier, for the storage_quota_used_bytes
// metrics gauge (§4.10).
func (r *Repository) SumUsageByTier(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subscription_tier, COALESCE(SUM(storage_used_bytes), 0) FROM users GROUP BY subscription_tier`)
	if err != nil {
		return nil, fmt.Errorf("sum usage by tier: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var tier string
		var total int64
		if err := rows.Scan(&tier, &total); err != nil {
			return nil, fmt.Errorf("sum usage by tier: scan: %w", err)
		}
		totals[tier] = total
	}
	return totals, rows.Err()
}

// CreateDevice inserts a new device row.
func (r *Repository) CreateDevice(ctx context.Context, d *Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, device_name, device_type, fingerprint, public_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.UserID, nullable(d.DeviceName), d.DeviceType, nullable(d.Fingerprint), nullable(d.PublicKey), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDeviceByFingerprint resolves the Open Question on device identity
// (§9): a login carrying the same (user, fingerprint) reuses the
// existing device row instead of creating a new one each time.
func (r *Repository) GetDeviceByFingerprint(ctx context.Context, userID, fingerprint string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_name, device_type, fingerprint, public_key, created_at, revoked_at
		FROM devices WHERE user_id = ? AND fingerprint = ? AND revoked_at IS NULL
	`, userID, fingerprint)
	return scanDevice(row)
}

func (r *Repository) GetDeviceByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_name, device_type, fingerprint, public_key, created_at, revoked_at
		FROM devices WHERE id = ?
	`, id)
	return scanDevice(row)
}

// ListDevices returns every device row for a user, including revoked
// ones, newest first.
func (r *Repository) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, device_name, device_type, fingerprint, public_key, created_at, revoked_at
		FROM devices WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d := &Device{}
		var name, fingerprint, pubKey sql.NullString
		var revokedAt sql.NullInt64
		if err := rows.Scan(&d.ID, &d.UserID, &name, &d.DeviceType, &fingerprint, &pubKey, &d.CreatedAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.DeviceName = name.String
		d.Fingerprint = fingerprint.String
		d.PublicKey = pubKey.String
		if revokedAt.Valid {
			d.RevokedAt = &revokedAt.Int64
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// RevokeDevice marks a device revoked and revokes every session bound
// to it, so a stolen refresh token stops working immediately.
func (r *Repository) RevokeDevice(ctx context.Context, deviceID string, revokedAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE devices SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, revokedAt, deviceID); err != nil {
		tx.Rollback()
		return fmt.Errorf("revoke device: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = ? WHERE device_id = ? AND revoked_at IS NULL`, revokedAt, deviceID); err != nil {
		tx.Rollback()
		return fmt.Errorf("revoke device sessions: %w", err)
	}
	return tx.Commit()
}

// DeleteUser removes a user row outright. Vault/file cleanup is the
// caller's responsibility (the vault service cascades its own tables).
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func scanDevice(row *sql.Row) (*Device, error) {
	d := &Device{}
	var name, fingerprint, pubKey sql.NullString
	var revokedAt sql.NullInt64
	err := row.Scan(&d.ID, &d.UserID, &name, &d.DeviceType, &fingerprint, &pubKey, &d.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.DeviceName = name.String
	d.Fingerprint = fingerprint.String
	d.PublicKey = pubKey.String
	if revokedAt.Valid {
		d.RevokedAt = &revokedAt.Int64
	}
	return d, nil
}

// CreateSession inserts a new refresh-token session row.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, device_id, refresh_token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.DeviceID, s.RefreshTokenHash, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_id, refresh_token_hash, expires_at, created_at, revoked_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	s := &Session{}
	var revokedAt sql.NullInt64
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.RefreshTokenHash, &s.ExpiresAt, &s.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Int64
	}
	return s, nil
}

// getSessionByUserAndHash looks up a session scoped to a user so a
// refresh/logout call can never touch another account's session row
// even if a hash collision were somehow presented.
func (r *Repository) getSessionByUserAndHash(ctx context.Context, userID, hash string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_id, refresh_token_hash, expires_at, created_at, revoked_at
		FROM sessions WHERE user_id = ? AND refresh_token_hash = ?
	`, userID, hash)
	return scanSession(row)
}

// ReplaceSessionHash rotates a session's refresh_token_hash in place,
// used on refresh (§4.5: refresh rotates the token but keeps the
// session row, rather than issuing a brand-new session per refresh).
func (r *Repository) ReplaceSessionHash(ctx context.Context, sessionID, newHash string, expiresAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET refresh_token_hash = ?, expires_at = ? WHERE id = ?`,
		newHash, expiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("rotate session hash: %w", err)
	}
	return nil
}

func (r *Repository) RevokeSession(ctx context.Context, sessionID string, revokedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ?`, revokedAt, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// GetFederatedIdentity looks up a user previously linked to an LDAP or
// OAuth subject.
func (r *Repository) GetFederatedIdentity(ctx context.Context, provider, subject string) (userID string, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM federated_identities WHERE provider = ? AND provider_subject = ?`,
		provider, subject).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup federated identity: %w", err)
	}
	return userID, nil
}

func (r *Repository) CreateFederatedIdentity(ctx context.Context, id, userID, provider, subject string, createdAt int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO federated_identities (id, user_id, provider, provider_subject, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, userID, provider, subject, createdAt)
	if err != nil {
		return fmt.Errorf("insert federated identity: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
