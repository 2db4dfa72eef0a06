package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// QuotaSampler periodically samples per-tier storage usage into the
// storage_quota_used_bytes gauge. It takes a plain function rather
// than depending on the auth package directly, the way syncengine and
// transfer depend on narrow QuotaStore interfaces instead of *auth.Repository.
type QuotaSampler struct {
	usageByTier func(ctx context.Context) (map[string]int64, error)
	logger      *logrus.Logger
}

// NewQuotaSampler builds a QuotaSampler backed by usageByTier.
func NewQuotaSampler(usageByTier func(ctx context.Context) (map[string]int64, error), logger *logrus.Logger) *QuotaSampler {
	return &QuotaSampler{usageByTier: usageByTier, logger: logger}
}

// Start samples usage every interval until ctx is done.
func (q *QuotaSampler) Start(ctx context.Context, interval time.Duration) {
	q.sample(ctx)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.sample(ctx)
			}
		}
	}()
}

func (q *QuotaSampler) sample(ctx context.Context) {
	totals, err := q.usageByTier(ctx)
	if err != nil {
		q.logger.WithError(err).Warn("quota sampler: failed to read usage by tier")
		return
	}
	for tier, bytes := range totals {
		SetStorageQuotaUsed(tier, bytes)
	}
}
