package vault

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
)

// FileStore is the narrow slice of the sync engine's repository that
// vault deletion needs: every live file in a vault must be torn down,
// blob included, before the vault row itself is soft-deleted. Defined
// here rather than imported from syncengine to avoid a package cycle
// (syncengine depends on vault for authorization, not the reverse).
type FileStore interface {
	SoftDeleteAllByVault(ctx context.Context, vaultID string, deletedAt int64) ([]string, error)
}

// BlobStore is the subset of storage.Backend deletion needs.
type BlobStore interface {
	Delete(ctx context.Context, key string) error
}

// Service implements the Vault Service (§4.7).
type Service struct {
	repo   *Repository
	files  FileStore
	blobs  BlobStore
	audit  *audit.Manager
	logger *logrus.Logger
}

func New(repo *Repository, files FileStore, blobs BlobStore, auditor *audit.Manager, logger *logrus.Logger) *Service {
	return &Service{repo: repo, files: files, blobs: blobs, audit: auditor, logger: logger}
}

func (s *Service) List(ctx context.Context, userID string) ([]*Vault, error) {
	vaults, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apierror.Internal("list vaults failed")
	}
	return vaults, nil
}

// Create provisions a vault and stores the creator's own wrapped key
// envelope in the same call — a vault is useless to its owner without
// one, and the client always has a wrapped key ready at creation time.
func (s *Service) Create(ctx context.Context, userID, name, encryptedKey, keyNonce string) (*Vault, error) {
	if name == "" {
		return nil, apierror.MissingFields("name")
	}
	if encryptedKey == "" || keyNonce == "" {
		return nil, apierror.MissingFields("encrypted_key, key_nonce")
	}

	now := unixNow()
	v := &Vault{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, apierror.Internal("create vault failed")
	}

	if err := s.repo.PutKeyEnvelope(ctx, &KeyEnvelope{
		VaultID:      v.ID,
		UserID:       userID,
		EncryptedKey: encryptedKey,
		KeyNonce:     keyNonce,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, apierror.Internal("store vault key failed")
	}

	s.audit.Record(ctx, userID, "", audit.ActionVaultCreated, map[string]interface{}{"vault_id": v.ID}, "", "")
	return v, nil
}

func (s *Service) Get(ctx context.Context, vaultID, userID string) (*Vault, error) {
	v, err := s.repo.Get(ctx, vaultID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apierror.VaultNotFound()
	}
	if err != nil {
		return nil, apierror.Internal("get vault failed")
	}
	return v, nil
}

// Delete soft-deletes the vault and cascades to every live file in it:
// the file rows are marked deleted first and their blobs removed from
// the Blob Store afterwards, so a crash mid-cascade leaves orphaned
// blobs rather than live metadata pointing at a blob that no longer
// exists.
func (s *Service) Delete(ctx context.Context, vaultID, userID string) error {
	if _, err := s.Get(ctx, vaultID, userID); err != nil {
		return err
	}

	now := unixNow()
	keys, err := s.files.SoftDeleteAllByVault(ctx, vaultID, now)
	if err != nil {
		return apierror.Internal("cascade delete files failed")
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("blob_key", key).Warn("vault delete: failed to remove blob, leaving orphaned")
		}
	}

	if err := s.repo.SoftDelete(ctx, vaultID, now); err != nil {
		return apierror.Internal("delete vault failed")
	}
	s.audit.Record(ctx, userID, "", audit.ActionVaultDeleted, map[string]interface{}{"vault_id": vaultID}, "", "")
	return nil
}

func (s *Service) GetKey(ctx context.Context, vaultID, userID string) (*KeyEnvelope, error) {
	if _, err := s.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}
	e, err := s.repo.GetKeyEnvelope(ctx, vaultID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apierror.VaultNotFound()
	}
	if err != nil {
		return nil, apierror.Internal("get vault key failed")
	}
	return e, nil
}

// PutKey wraps the vault's content key for another device or user
// sharing the vault — the caller must own the vault before it can mint
// envelopes for others, which is enforced by requiring a valid Get
// first (holding an envelope alone does not suffice).
func (s *Service) PutKey(ctx context.Context, vaultID, granterUserID, targetUserID, encryptedKey, keyNonce string) error {
	if _, err := s.Get(ctx, vaultID, granterUserID); err != nil {
		return err
	}
	if encryptedKey == "" || keyNonce == "" {
		return apierror.MissingFields("encrypted_key, key_nonce")
	}
	now := unixNow()
	if err := s.repo.PutKeyEnvelope(ctx, &KeyEnvelope{
		VaultID:      vaultID,
		UserID:       targetUserID,
		EncryptedKey: encryptedKey,
		KeyNonce:     keyNonce,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return apierror.Internal("store vault key failed")
	}
	return nil
}
