package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/metrics"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/vault"
)

// BlobStore is the subset of storage.Backend the sync engine needs to
// probe blob presence (pull, confirm) and remove blobs (accepted
// delete, best-effort).
type BlobStore interface {
	Head(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// BlobIndex is the subset of blobindex.Index used as a fast-path cache
// in front of BlobStore.Head, so a vault with thousands of files does
// not probe the Blob Store on every pull.
type BlobIndex interface {
	Contains(ctx context.Context, key string) (bool, error)
	MarkPresent(ctx context.Context, key string, size int64) error
	Forget(ctx context.Context, key string) error
}

// QuotaStore is the narrow slice of the auth repository the sync
// engine needs for quota checks and accounting.
type QuotaStore interface {
	GetQuota(ctx context.Context, userID string) (quotaBytes, usedBytes int64, err error)
	AddUsage(ctx context.Context, userID string, deltaBytes int64) error
}

// Service implements the Sync Engine (§4.4).
type Service struct {
	repo    *Repository
	vaults  *vault.Service
	blobs   BlobStore
	index   BlobIndex
	quota   QuotaStore
	limiter *ratelimit.Limiter
	audit   *audit.Manager
	logger  *logrus.Logger
}

func New(repo *Repository, vaults *vault.Service, blobs BlobStore, index BlobIndex, quota QuotaStore, limiter *ratelimit.Limiter, auditor *audit.Manager, logger *logrus.Logger) *Service {
	return &Service{
		repo:    repo,
		vaults:  vaults,
		blobs:   blobs,
		index:   index,
		quota:   quota,
		limiter: limiter,
		audit:   auditor,
		logger:  logger,
	}
}

func (s *Service) checkRateLimit(action, identifier string) error {
	decision, err := s.limiter.Allow(action, identifier)
	if err != nil {
		return apierror.Internal("rate limit check failed")
	}
	if !decision.Allowed {
		metrics.RecordRateLimitRejected(action)
		return apierror.RateLimited(int64(decision.RetryAfter.Seconds()))
	}
	return nil
}

// blobPresent consults the cache before falling back to a Head probe,
// populating the cache on a confirmed hit.
func (s *Service) blobPresent(ctx context.Context, key string) (bool, error) {
	if s.index != nil {
		if present, err := s.index.Contains(ctx, key); err == nil && present {
			return true, nil
		}
	}
	present, err := s.blobs.Head(ctx, key)
	if err != nil {
		return false, err
	}
	if present && s.index != nil {
		_ = s.index.MarkPresent(ctx, key, 0)
	}
	return present, nil
}

// Pull implements §4.4.2.
func (s *Service) Pull(ctx context.Context, vaultID, userID string, cursorStr string, limit int) (*PullResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit("sync_pull", userID+":"+vaultID); err != nil {
		return nil, err
	}

	const maxLimit = 500
	if limit <= 0 {
		limit = 100
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	cursor, err := ParseCursor(cursorStr)
	if err != nil {
		return nil, apierror.New(http.StatusBadRequest, "INVALID_CURSOR", "cursor is malformed")
	}
	fromStart := cursorStr == ""

	rows, err := s.repo.ListAfterCursor(ctx, vaultID, cursor, limit+1)
	if err != nil {
		return nil, apierror.Internal("list changes failed")
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	result := &PullResult{NextCursor: cursorStr, HasMore: hasMore}
	for _, f := range rows {
		result.NextCursor = cursorOf(f).String()

		if f.DeletedAt != nil {
			result.Changes = append(result.Changes, PullChange{
				FileID:    f.ID,
				Operation: OpDelete,
			})
			continue
		}

		present, err := s.blobPresent(ctx, f.StorageKey)
		if err != nil {
			s.logger.WithError(err).WithField("storage_key", f.StorageKey).Warn("pull: blob head probe failed, skipping row")
			continue
		}
		if !present {
			continue
		}

		op := OpUpdate
		if fromStart {
			op = OpCreate
		}
		result.Changes = append(result.Changes, PullChange{
			FileID:      f.ID,
			Operation:   op,
			DownloadURL: downloadURL(vaultID, f.ID),
			ContentHash: f.ContentHash,
			Version:     f.Version,
			ModifiedAt:  f.ModifiedAt,
			SizeBytes:   f.SizeBytes,
		})
	}

	s.audit.Record(ctx, userID, "", "sync_pull", map[string]interface{}{
		"vault_id":      vaultID,
		"changes_count": len(result.Changes),
	}, "", "")
	metrics.RecordSyncPull()
	return result, nil
}

// Push implements §4.4.3: each change is applied in its own
// transaction, in request order.
func (s *Service) Push(ctx context.Context, vaultID, userID string, changes []Change) ([]PushResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit("sync_push", userID+":"+vaultID); err != nil {
		return nil, err
	}

	pushStart := time.Now()
	defer func() { metrics.ObserveSyncPushDuration(time.Since(pushStart)) }()

	results := make([]PushResult, len(changes))
	accepted, conflicts := 0, 0
	var netSizeDelta int64

	for i, c := range changes {
		res, sizeDelta, err := s.applyChange(ctx, vaultID, userID, c)
		if err != nil {
			return nil, err
		}
		results[i] = res
		netSizeDelta += sizeDelta
		metrics.RecordSyncPush(string(res.Verdict))
		switch res.Verdict {
		case VerdictAccepted:
			accepted++
		case VerdictConflict:
			conflicts++
		}
	}

	if netSizeDelta != 0 {
		if err := s.quota.AddUsage(ctx, userID, netSizeDelta); err != nil {
			s.logger.WithError(err).Error("push: failed to update storage usage")
		}
	}

	s.audit.Record(ctx, userID, "", "sync_push", map[string]interface{}{
		"vault_id":      vaultID,
		"changes_count": len(changes),
		"accepted":      accepted,
		"conflicts":     conflicts,
	}, "", "")
	return results, nil
}

// applyChange runs one change's read-modify-write inside a
// transaction and returns its verdict plus the accepted size delta
// (0 for conflicts/errors/no-op deletes).
func (s *Service) applyChange(ctx context.Context, vaultID, userID string, c Change) (PushResult, int64, error) {
	var result PushResult
	var sizeDelta int64

	err := s.repo.WithTx(ctx, func(tx *Repository) error {
		existing, err := tx.GetLiveByPath(ctx, vaultID, c.EncryptedPath)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lookup existing file: %w", err)
		}
		found := !errors.Is(err, ErrNotFound)

		if c.Operation == OpDelete {
			result, sizeDelta, err = s.applyDelete(ctx, tx, c, existing, found)
			return err
		}
		result, sizeDelta, err = s.applyCreateOrUpdate(ctx, tx, vaultID, userID, c, existing, found)
		return err
	})
	if err != nil {
		return PushResult{}, 0, apierror.Internal("apply change failed")
	}
	return result, sizeDelta, nil
}

func (s *Service) applyDelete(ctx context.Context, tx *Repository, c Change, existing *VaultFile, found bool) (PushResult, int64, error) {
	if !found {
		return PushResult{EncryptedPath: c.EncryptedPath, Verdict: VerdictAccepted}, 0, nil
	}

	now := unixNow()
	newVersion := existing.Version + 1
	if err := tx.MarkDeleted(ctx, existing.ID, newVersion, now); err != nil {
		return PushResult{}, 0, err
	}
	if err := s.blobs.Delete(ctx, existing.StorageKey); err != nil {
		s.logger.WithError(err).WithField("storage_key", existing.StorageKey).Warn("push: best-effort blob delete failed")
	}
	if s.index != nil {
		_ = s.index.Forget(ctx, existing.StorageKey)
	}

	return PushResult{
		EncryptedPath: c.EncryptedPath,
		Verdict:       VerdictAccepted,
		FileID:        existing.ID,
		NewVersion:    &newVersion,
	}, -existing.SizeBytes, nil
}

func (s *Service) applyCreateOrUpdate(ctx context.Context, tx *Repository, vaultID, userID string, c Change, existing *VaultFile, found bool) (PushResult, int64, error) {
	if !found {
		quotaBytes, usedBytes, err := s.quota.GetQuota(ctx, userID)
		if err != nil {
			return PushResult{}, 0, err
		}
		if usedBytes+c.Size > quotaBytes {
			return PushResult{EncryptedPath: c.EncryptedPath, Verdict: VerdictError, Reason: "storage quota exceeded"}, 0, nil
		}

		id := uuid.NewString()
		now := unixNow()
		f := &VaultFile{
			ID:            id,
			VaultID:       vaultID,
			EncryptedPath: c.EncryptedPath,
			ContentHash:   c.ContentHash,
			SizeBytes:     c.Size,
			ModifiedAt:    c.ModifiedAt,
			Version:       1,
			StorageKey:    storageKey(vaultID, id),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Insert(ctx, f); err != nil {
			return PushResult{}, 0, err
		}
		newVersion := int64(1)
		return PushResult{
			EncryptedPath: c.EncryptedPath,
			Verdict:       VerdictAccepted,
			FileID:        id,
			NewVersion:    &newVersion,
			UploadURL:     "/api/v1/vaults/" + vaultID + "/files/" + id + "/upload",
		}, c.Size, nil
	}

	blobPresent, err := s.blobPresent(ctx, existing.StorageKey)
	if err != nil {
		return PushResult{}, 0, err
	}

	staleBase := c.BaseVersion != nil && *c.BaseVersion != existing.Version
	sameContent := c.ContentHash == existing.ContentHash

	if staleBase {
		if sameContent && blobPresent {
			v := existing.Version
			return PushResult{EncryptedPath: c.EncryptedPath, Verdict: VerdictAccepted, FileID: existing.ID, NewVersion: &v}, 0, nil
		}
		if sameContent && !blobPresent {
			return s.reuploadSameContent(ctx, tx, vaultID, existing)
		}
		return PushResult{
			EncryptedPath: c.EncryptedPath,
			Verdict:       VerdictConflict,
			FileID:        existing.ID,
			Reason:        fmt.Sprintf("version conflict: expected %d, found %d", *c.BaseVersion, existing.Version),
		}, 0, nil
	}

	if sameContent && blobPresent {
		v := existing.Version
		return PushResult{EncryptedPath: c.EncryptedPath, Verdict: VerdictAccepted, FileID: existing.ID, NewVersion: &v}, 0, nil
	}

	delta := c.Size - existing.SizeBytes
	if delta > 0 {
		quotaBytes, usedBytes, err := s.quota.GetQuota(ctx, userID)
		if err != nil {
			return PushResult{}, 0, err
		}
		if usedBytes+delta > quotaBytes {
			return PushResult{EncryptedPath: c.EncryptedPath, Verdict: VerdictError, Reason: "storage quota exceeded"}, 0, nil
		}
	}

	now := unixNow()
	newVersion := existing.Version + 1
	updated := &VaultFile{
		ID:          existing.ID,
		ContentHash: c.ContentHash,
		SizeBytes:   c.Size,
		ModifiedAt:  c.ModifiedAt,
		Version:     newVersion,
		UpdatedAt:   now,
	}
	if err := tx.UpdateForPush(ctx, updated); err != nil {
		return PushResult{}, 0, err
	}
	return PushResult{
		EncryptedPath: c.EncryptedPath,
		Verdict:       VerdictAccepted,
		FileID:        existing.ID,
		NewVersion:    &newVersion,
		UploadURL:     "/api/v1/vaults/" + vaultID + "/files/" + existing.ID + "/upload",
	}, delta, nil
}

// reuploadSameContent handles the "matching content_hash but the blob
// vanished" branch of §4.4.3: treated as a fresh upload of identical
// content, bumping the version so the client knows to re-PUT.
func (s *Service) reuploadSameContent(ctx context.Context, tx *Repository, vaultID string, existing *VaultFile) (PushResult, int64, error) {
	now := unixNow()
	newVersion := existing.Version + 1
	updated := &VaultFile{
		ID:          existing.ID,
		ContentHash: existing.ContentHash,
		SizeBytes:   existing.SizeBytes,
		ModifiedAt:  existing.ModifiedAt,
		Version:     newVersion,
		UpdatedAt:   now,
	}
	if err := tx.UpdateForPush(ctx, updated); err != nil {
		return PushResult{}, 0, err
	}
	return PushResult{
		EncryptedPath: existing.EncryptedPath,
		Verdict:       VerdictAccepted,
		FileID:        existing.ID,
		NewVersion:    &newVersion,
		UploadURL:     "/api/v1/vaults/" + vaultID + "/files/" + existing.ID + "/upload",
	}, 0, nil
}

// Confirm implements §4.4.4: head-probes each file_id's storage_key,
// never mutating metadata.
func (s *Service) Confirm(ctx context.Context, vaultID, userID string, fileIDs []string) (*ConfirmResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}

	result := &ConfirmResult{}
	for _, id := range fileIDs {
		f, err := s.repo.GetByID(ctx, vaultID, id)
		if err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		present, err := s.blobs.Head(ctx, f.StorageKey)
		if err != nil || !present {
			result.Failed = append(result.Failed, id)
			continue
		}
		if s.index != nil {
			_ = s.index.MarkPresent(ctx, f.StorageKey, f.SizeBytes)
		}
		result.Confirmed = append(result.Confirmed, id)
	}
	return result, nil
}

// Status implements §4.4.5.
func (s *Service) Status(ctx context.Context, vaultID, userID string) (*StatusResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}
	res, err := s.repo.Status(ctx, vaultID)
	if err != nil {
		return nil, apierror.Internal("status failed")
	}
	return &res, nil
}
