package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SQLiteStore records audit_log rows against the shared Metadata Store
// database. The audit_log table itself is created by
// internal/db/migrations (migration3_RateBucketsAndAudit); this store
// only reads and writes it, matching every other Sync Core component's
// relationship to the single shared *sql.DB.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore wraps an already-open, already-migrated database
// handle.
func NewSQLiteStore(db *sql.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, device_id, action, details_json, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, nullable(e.UserID), nullable(e.DeviceID), e.Action, nullable(e.DetailsJSON),
		nullable(e.IP), nullable(e.UserAgent), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit_log row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, filters Filters) ([]*Entry, int, error) {
	page, pageSize := filters.Page, filters.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 100 {
		pageSize = 100
	}

	where := "WHERE user_id = ?"
	args := []interface{}{userID}
	if filters.Action != "" {
		where += " AND action = ?"
		args = append(args, filters.Action)
	}
	if filters.StartTime > 0 {
		where += " AND created_at >= ?"
		args = append(args, filters.StartTime)
	}
	if filters.EndTime > 0 {
		where += " AND created_at <= ?"
		args = append(args, filters.EndTime)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit_log rows: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, device_id, action, details_json, ip, user_agent, created_at
		FROM audit_log %s
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit_log rows: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var userID, deviceID, detailsJSON, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &userID, &deviceID, &e.Action, &detailsJSON, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit_log row: %w", err)
		}
		e.UserID = userID.String
		e.DeviceID = deviceID.String
		e.DetailsJSON = detailsJSON.String
		e.IP = ip.String
		e.UserAgent = ua.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit_log rows: %w", err)
	}

	return entries, total, nil
}

func (s *SQLiteStore) Close() error {
	return nil
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
