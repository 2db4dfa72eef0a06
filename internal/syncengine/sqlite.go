package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by repository lookups that find no row.
var ErrNotFound = errors.New("syncengine: not found")

const fileSelect = `SELECT id, vault_id, encrypted_path, content_hash, encrypted_content_hash,
	size_bytes, modified_at, version, storage_key, created_at, updated_at, deleted_at
	FROM vault_files`

// querier is satisfied by both *sql.DB and *sql.Tx, letting Repository
// methods run either against the shared handle or inside a
// WithTx-scoped transaction without duplicating every method.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository is the Metadata Store access layer for vault_files.
type Repository struct {
	db *sql.DB
	q  querier
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// WithTx runs fn against a Repository scoped to a single transaction,
// so a push change's read-then-write is one transactional step
// (§5: "each mutation is a single transactional step").
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Repository{db: r.db, q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanFile(row interface{ Scan(...interface{}) error }) (*VaultFile, error) {
	f := &VaultFile{}
	var deletedAt sql.NullInt64
	err := row.Scan(&f.ID, &f.VaultID, &f.EncryptedPath, &f.ContentHash, &f.EncryptedContentHash,
		&f.SizeBytes, &f.ModifiedAt, &f.Version, &f.StorageKey, &f.CreatedAt, &f.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		f.DeletedAt = &deletedAt.Int64
	}
	return f, nil
}

// GetLiveByPath returns the live row for (vaultID, encryptedPath), or
// ErrNotFound. Invariant 1 guarantees at most one such row exists.
func (r *Repository) GetLiveByPath(ctx context.Context, vaultID, encryptedPath string) (*VaultFile, error) {
	row := r.q.QueryRowContext(ctx,
		fileSelect+` WHERE vault_id = ? AND encrypted_path = ? AND deleted_at IS NULL`,
		vaultID, encryptedPath)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live file by path: %w", err)
	}
	return f, nil
}

// GetByID returns a row scoped to vaultID regardless of delete state.
func (r *Repository) GetByID(ctx context.Context, vaultID, fileID string) (*VaultFile, error) {
	row := r.q.QueryRowContext(ctx,
		fileSelect+` WHERE vault_id = ? AND id = ?`, vaultID, fileID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file by id: %w", err)
	}
	return f, nil
}

// ListAfterCursor returns up to limit rows for vaultID ordered by
// (updated_at, id) strictly greater than after, soft-deleted rows
// included (§4.4.2 step 3).
func (r *Repository) ListAfterCursor(ctx context.Context, vaultID string, after Cursor, limit int) ([]*VaultFile, error) {
	rows, err := r.q.QueryContext(ctx, fileSelect+`
		WHERE vault_id = ? AND (updated_at > ? OR (updated_at = ? AND id > ?))
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`, vaultID, after.UpdatedAt, after.UpdatedAt, after.FileID, limit)
	if err != nil {
		return nil, fmt.Errorf("list files after cursor: %w", err)
	}
	defer rows.Close()

	var files []*VaultFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, f *VaultFile) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO vault_files (id, vault_id, encrypted_path, content_hash, encrypted_content_hash,
			size_bytes, modified_at, version, storage_key, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, f.ID, f.VaultID, f.EncryptedPath, f.ContentHash, f.EncryptedContentHash,
		f.SizeBytes, f.ModifiedAt, f.Version, f.StorageKey, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// UpdateForPush applies an accepted create/update verdict's new field
// values to an existing row, bumping the version and clearing any
// tombstone (Deleted -> Pending transition of §4.4.6).
func (r *Repository) UpdateForPush(ctx context.Context, f *VaultFile) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE vault_files SET content_hash = ?, size_bytes = ?, modified_at = ?,
			version = ?, updated_at = ?, deleted_at = NULL
		WHERE id = ?
	`, f.ContentHash, f.SizeBytes, f.ModifiedAt, f.Version, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("update file for push: %w", err)
	}
	return nil
}

// MarkDeleted applies an accepted delete verdict (Live|Pending -> Deleted).
func (r *Repository) MarkDeleted(ctx context.Context, fileID string, version, updatedAt int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE vault_files SET deleted_at = ?, updated_at = ?, version = ? WHERE id = ?`,
		updatedAt, updatedAt, version, fileID)
	if err != nil {
		return fmt.Errorf("mark file deleted: %w", err)
	}
	return nil
}

// UpdateUploadedContent records the server-observed ciphertext hash
// and size after a successful upload (§4.6): the authoritative values,
// superseding the client's advisory push-time size.
func (r *Repository) UpdateUploadedContent(ctx context.Context, fileID, encryptedContentHash string, sizeBytes, updatedAt int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE vault_files SET encrypted_content_hash = ?, size_bytes = ?, updated_at = ? WHERE id = ?`,
		encryptedContentHash, sizeBytes, updatedAt, fileID)
	if err != nil {
		return fmt.Errorf("update uploaded content: %w", err)
	}
	return nil
}

// HardDelete removes a row entirely (§4.6 DELETE file).
func (r *Repository) HardDelete(ctx context.Context, fileID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM vault_files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("hard delete file: %w", err)
	}
	return nil
}

// Status summarizes live rows for vaultID.
func (r *Repository) Status(ctx context.Context, vaultID string) (StatusResult, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(MAX(modified_at), 0)
		FROM vault_files WHERE vault_id = ? AND deleted_at IS NULL
	`, vaultID)
	var res StatusResult
	if err := row.Scan(&res.FileCount, &res.TotalSizeBytes, &res.LastModified); err != nil {
		return StatusResult{}, fmt.Errorf("status: %w", err)
	}
	return res, nil
}

// SoftDeleteAllByVault tombstones every live file in vaultID and
// returns their storage keys, for the Vault Service's cascading
// delete. It satisfies vault.FileStore.
func (r *Repository) SoftDeleteAllByVault(ctx context.Context, vaultID string, deletedAt int64) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT storage_key FROM vault_files WHERE vault_id = ? AND deleted_at IS NULL`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("list live storage keys: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan storage key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := r.q.ExecContext(ctx,
		`UPDATE vault_files SET deleted_at = ?, updated_at = ? WHERE vault_id = ? AND deleted_at IS NULL`,
		deletedAt, deletedAt, vaultID); err != nil {
		return nil, fmt.Errorf("soft delete vault files: %w", err)
	}
	return keys, nil
}
