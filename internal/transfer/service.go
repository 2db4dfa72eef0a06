// Package transfer implements File Transfer (§4.6): authenticated
// upload/download/delete of individual file blobs. Upload recomputes
// the ciphertext hash and size server-side; the client-declared size
// from push is advisory only.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/metrics"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/syncengine"
	"github.com/DevNvll/echopad/internal/vault"
)

// BlobStore is the subset of storage.Backend file transfer needs.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error)
	Delete(ctx context.Context, key string) error
}

// BlobIndex mirrors syncengine.BlobIndex so a successful upload can
// warm the presence cache immediately instead of waiting for the next
// pull's Head probe to populate it.
type BlobIndex interface {
	MarkPresent(ctx context.Context, key string, size int64) error
	Forget(ctx context.Context, key string) error
}

// QuotaStore mirrors syncengine.QuotaStore for the delete path's usage
// decrement.
type QuotaStore interface {
	AddUsage(ctx context.Context, userID string, deltaBytes int64) error
}

// UploadResult reports the server-observed values an upload produced.
type UploadResult struct {
	EncryptedContentHash string
	SizeBytes            int64
}

// DownloadResult carries the blob stream plus the header values §4.6
// requires the caller to set (X-File-Hash, X-File-Version).
type DownloadResult struct {
	Body        io.ReadCloser
	ContentHash string
	Version     int64
}

// Service implements File Transfer.
type Service struct {
	files   *syncengine.Repository
	vaults  *vault.Service
	blobs   BlobStore
	index   BlobIndex
	quota   QuotaStore
	limiter *ratelimit.Limiter
	audit   *audit.Manager
	logger  *logrus.Logger
	now     func() int64
}

func New(files *syncengine.Repository, vaults *vault.Service, blobs BlobStore, index BlobIndex, quota QuotaStore, limiter *ratelimit.Limiter, auditor *audit.Manager, logger *logrus.Logger) *Service {
	return &Service{
		files:   files,
		vaults:  vaults,
		blobs:   blobs,
		index:   index,
		quota:   quota,
		limiter: limiter,
		audit:   auditor,
		logger:  logger,
		now:     unixNow,
	}
}

// Upload implements §4.6 PUT upload. body is the raw request body;
// its declared push-time size is not trusted, everything here is
// recomputed from the bytes actually received.
func (s *Service) Upload(ctx context.Context, vaultID, fileID, userID string, body io.Reader) (*UploadResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}
	decision, err := s.limiter.Allow("file_upload", userID+":"+vaultID)
	if err != nil {
		return nil, apierror.Internal("rate limit check failed")
	}
	if !decision.Allowed {
		metrics.RecordRateLimitRejected("file_upload")
		return nil, apierror.RateLimited(int64(decision.RetryAfter.Seconds()))
	}

	f, err := s.files.GetByID(ctx, vaultID, fileID)
	if errors.Is(err, syncengine.ErrNotFound) {
		return nil, apierror.FileNotFound()
	}
	if err != nil {
		return nil, apierror.Internal("lookup file failed")
	}

	counting := &countingReader{r: body}
	hasher := sha256.New()
	tee := io.TeeReader(counting, hasher)

	putStart := time.Now()
	err = s.blobs.Put(ctx, f.StorageKey, tee, map[string]string{
		"vault_id": vaultID,
		"file_id":  fileID,
	})
	metrics.ObserveBlobOperation("put", time.Since(putStart))
	if err != nil {
		return nil, apierror.Internal("blob upload failed")
	}

	if counting.n == 0 {
		_ = s.blobs.Delete(ctx, f.StorageKey)
		return nil, apierror.EmptyContent()
	}

	encryptedHash := hex.EncodeToString(hasher.Sum(nil))
	if err := s.files.UpdateUploadedContent(ctx, fileID, encryptedHash, counting.n, s.now()); err != nil {
		return nil, apierror.Internal("record upload failed")
	}
	if s.index != nil {
		_ = s.index.MarkPresent(ctx, f.StorageKey, counting.n)
	}

	s.audit.Record(ctx, userID, "", "file_upload", map[string]interface{}{
		"vault_id": vaultID, "file_id": fileID, "size_bytes": counting.n,
	}, "", "")

	return &UploadResult{EncryptedContentHash: encryptedHash, SizeBytes: counting.n}, nil
}

// Download implements §4.6 GET download, distinguishing a missing row
// from a row whose blob was never uploaded.
func (s *Service) Download(ctx context.Context, vaultID, fileID, userID string) (*DownloadResult, error) {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return nil, err
	}

	f, err := s.files.GetByID(ctx, vaultID, fileID)
	if errors.Is(err, syncengine.ErrNotFound) || (err == nil && f.DeletedAt != nil) {
		return nil, apierror.FileNotFound()
	}
	if err != nil {
		return nil, apierror.Internal("lookup file failed")
	}

	getStart := time.Now()
	body, _, err := s.blobs.Get(ctx, f.StorageKey)
	metrics.ObserveBlobOperation("get", time.Since(getStart))
	if err != nil {
		return nil, apierror.ContentNotFound()
	}

	return &DownloadResult{Body: body, ContentHash: f.ContentHash, Version: f.Version}, nil
}

// Delete implements §4.6 DELETE file: hard-delete the row, remove the
// blob, decrement quota by the row's last known size.
func (s *Service) Delete(ctx context.Context, vaultID, fileID, userID string) error {
	if _, err := s.vaults.Get(ctx, vaultID, userID); err != nil {
		return err
	}

	f, err := s.files.GetByID(ctx, vaultID, fileID)
	if errors.Is(err, syncengine.ErrNotFound) {
		return apierror.FileNotFound()
	}
	if err != nil {
		return apierror.Internal("lookup file failed")
	}

	deleteStart := time.Now()
	err = s.blobs.Delete(ctx, f.StorageKey)
	metrics.ObserveBlobOperation("delete", time.Since(deleteStart))
	if err != nil {
		s.logger.WithError(err).WithField("storage_key", f.StorageKey).Warn("delete: best-effort blob removal failed")
	}
	if s.index != nil {
		_ = s.index.Forget(ctx, f.StorageKey)
	}
	if err := s.files.HardDelete(ctx, fileID); err != nil {
		return apierror.Internal("delete file failed")
	}
	if f.DeletedAt == nil {
		if err := s.quota.AddUsage(ctx, userID, -f.SizeBytes); err != nil {
			s.logger.WithError(err).Warn("delete: failed to decrement storage usage")
		}
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func unixNow() int64 { return time.Now().Unix() }
