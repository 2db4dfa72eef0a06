package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager is the single entry point other services call to record an
// audit_log row. A failure to audit never fails the caller's request;
// it is logged and swallowed, matching the teacher's own
// audit-is-best-effort stance.
type Manager struct {
	store  Store
	logger *logrus.Logger
	now    func() int64
}

func NewManager(store Store, logger *logrus.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: unixNow}
}

// Record logs one audit_log row. details is marshaled to JSON; a nil
// or unmarshalable details value is recorded as an empty object rather
// than failing the call.
func (m *Manager) Record(ctx context.Context, userID, deviceID, action string, details map[string]interface{}, ip, userAgent string) {
	detailsJSON := "{}"
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		} else {
			m.logger.WithError(err).Warn("failed to marshal audit details")
		}
	}

	entry := &Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		DeviceID:    deviceID,
		Action:      action,
		DetailsJSON: detailsJSON,
		IP:          ip,
		UserAgent:   userAgent,
		CreatedAt:   m.now(),
	}

	if err := m.store.Record(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("action", action).Error("failed to record audit event")
	}
}

func (m *Manager) ListByUser(ctx context.Context, userID string, filters Filters) ([]*Entry, int, error) {
	return m.store.ListByUser(ctx, userID, filters)
}

func (m *Manager) Close() error {
	return m.store.Close()
}
