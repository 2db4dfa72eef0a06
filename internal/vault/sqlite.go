package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound covers both a genuinely missing vault and one that
// exists but belongs to a different user — callers must not
// distinguish the two (§4.7: cross-user access always looks like
// VAULT_NOT_FOUND, never FORBIDDEN).
var ErrNotFound = errors.New("vault: not found")

// Repository is the Metadata Store access layer for vaults and
// vault_keys.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, v *Vault) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vaults (id, user_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, v.ID, v.UserID, v.Name, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*Vault, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at, deleted_at
		FROM vaults WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []*Vault
	for rows.Next() {
		v, err := scanVaultRow(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

// Get returns the vault only if it is live and owned by userID.
func (r *Repository) Get(ctx context.Context, vaultID, userID string) (*Vault, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at, deleted_at
		FROM vaults WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, vaultID, userID)
	v := &Vault{}
	var deletedAt sql.NullInt64
	err := row.Scan(&v.ID, &v.UserID, &v.Name, &v.CreatedAt, &v.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vault: %w", err)
	}
	if deletedAt.Valid {
		v.DeletedAt = &deletedAt.Int64
	}
	return v, nil
}

func scanVaultRow(rows *sql.Rows) (*Vault, error) {
	v := &Vault{}
	var deletedAt sql.NullInt64
	if err := rows.Scan(&v.ID, &v.UserID, &v.Name, &v.CreatedAt, &v.UpdatedAt, &deletedAt); err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	if deletedAt.Valid {
		v.DeletedAt = &deletedAt.Int64
	}
	return v, nil
}

func (r *Repository) SoftDelete(ctx context.Context, vaultID string, deletedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE vaults SET deleted_at = ?, updated_at = ? WHERE id = ?`,
		deletedAt, deletedAt, vaultID)
	if err != nil {
		return fmt.Errorf("soft delete vault: %w", err)
	}
	return nil
}

func (r *Repository) GetKeyEnvelope(ctx context.Context, vaultID, userID string) (*KeyEnvelope, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT vault_id, user_id, encrypted_key, key_nonce, created_at, updated_at
		FROM vault_keys WHERE vault_id = ? AND user_id = ?
	`, vaultID, userID)
	e := &KeyEnvelope{}
	err := row.Scan(&e.VaultID, &e.UserID, &e.EncryptedKey, &e.KeyNonce, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key envelope: %w", err)
	}
	return e, nil
}

// PutKeyEnvelope upserts the (vault, user) key envelope, so re-sharing
// or rotating a wrapped key is idempotent.
func (r *Repository) PutKeyEnvelope(ctx context.Context, e *KeyEnvelope) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vault_keys (vault_id, user_id, encrypted_key, key_nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (vault_id, user_id) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			key_nonce = excluded.key_nonce,
			updated_at = excluded.updated_at
	`, e.VaultID, e.UserID, e.EncryptedKey, e.KeyNonce, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put key envelope: %w", err)
	}
	return nil
}
