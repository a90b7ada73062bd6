package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"weatherbot/internal/common/database"
)

// PostgresStore persists session records in the user_sessions table.
type PostgresStore struct {
	db      *database.PostgresClient
	timeout time.Duration
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *database.PostgresClient, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: queryTimeout}
}

const migrateDDL = `
CREATE TABLE IF NOT EXISTS user_sessions (
	user_id BIGINT PRIMARY KEY,
	city VARCHAR(100),
	state VARCHAR(50),
	is_active BOOLEAN DEFAULT TRUE,
	notification_time TIME DEFAULT NULL,
	notifications_enabled BOOLEAN DEFAULT FALSE,
	last_notification_sent DATE DEFAULT NULL,
	last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_user_sessions_is_active ON user_sessions (is_active);
CREATE INDEX IF NOT EXISTS idx_user_sessions_notifications_enabled ON user_sessions (notifications_enabled);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.Exec(ctx, migrateDDL); err != nil {
		return fmt.Errorf("migrate user_sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `INSERT INTO user_sessions
		(user_id, city, state, is_active, notification_time,
		 notifications_enabled, last_notification_sent, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			is_active = EXCLUDED.is_active,
			notification_time = EXCLUDED.notification_time,
			notifications_enabled = EXCLUDED.notifications_enabled,
			last_notification_sent = EXCLUDED.last_notification_sent,
			last_activity = EXCLUDED.last_activity`

	_, err := s.db.Exec(ctx, query,
		rec.UserID,
		nullString(rec.City),
		nullString(rec.State),
		rec.Active,
		notificationTimeValue(rec.NotificationTime),
		rec.NotificationsEnabled,
		dateValue(rec.LastNotificationSent),
		rec.LastActivity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %d: %w", rec.UserID, err)
	}
	return nil
}

const selectColumns = `user_id, city, state, is_active, notification_time,
	notifications_enabled, last_notification_sent, last_activity, created_at`

func (s *PostgresStore) FindByID(ctx context.Context, userID int64) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + selectColumns + ` FROM user_sessions WHERE user_id = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrSessionNotFound
		}
		return Record{}, fmt.Errorf("find session %d: %w", userID, err)
	}
	return rec, nil
}

func (s *PostgresStore) FindWithNotifications(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM user_sessions
		WHERE notifications_enabled = TRUE
		AND notification_time IS NOT NULL
		AND city IS NOT NULL
		AND is_active = TRUE`
	return s.queryRecords(ctx, query)
}

func (s *PostgresStore) FindActive(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM user_sessions
		WHERE is_active = TRUE ORDER BY last_activity DESC`
	return s.queryRecords(ctx, query)
}

func (s *PostgresStore) UpdateLastNotificationSent(ctx context.Context, userID int64, day time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var value interface{}
	if !day.IsZero() {
		value = dateOnly(day)
	}
	query := `UPDATE user_sessions SET last_notification_sent = $1 WHERE user_id = $2`
	if _, err := s.db.Exec(ctx, query, value, userID); err != nil {
		return fmt.Errorf("update last_notification_sent %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateActivity(ctx context.Context, userID int64, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `UPDATE user_sessions SET last_activity = $1 WHERE user_id = $2`
	if _, err := s.db.Exec(ctx, query, at, userID); err != nil {
		return fmt.Errorf("update activity %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1`
	if _, err := s.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("deactivate session %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `DELETE FROM user_sessions WHERE is_active = FALSE AND last_activity < $1`
	res, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge inactive sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge inactive sessions: rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountWithNotifications(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT COUNT(*) FROM user_sessions
		WHERE notifications_enabled = TRUE AND is_active = TRUE`
	var n int
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions with notifications: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		city     sql.NullString
		state    sql.NullString
		notifyAt sql.NullString
		lastSent sql.NullTime
	)

	err := row.Scan(
		&rec.UserID,
		&city,
		&state,
		&rec.Active,
		&notifyAt,
		&rec.NotificationsEnabled,
		&lastSent,
		&rec.LastActivity,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.City = city.String
	rec.State = state.String

	if notifyAt.Valid {
		t, err := parseSQLTime(notifyAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse notification_time %q: %w", notifyAt.String, err)
		}
		rec.NotificationTime = &t
	}

	if lastSent.Valid {
		d := dateOnly(lastSent.Time)
		rec.LastNotificationSent = &d
	}

	return rec, nil
}

// parseSQLTime parses the textual TIME representation ("08:30:00").
func parseSQLTime(s string) (ClockTime, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ClockTimeOf(ts), nil
		}
	}
	return ClockTime{}, fmt.Errorf("unrecognized time literal")
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func notificationTimeValue(t *ClockTime) interface{} {
	if t == nil {
		return nil
	}
	return fmt.Sprintf("%02d:%02d:00", t.Hour, t.Minute)
}

func dateValue(d *time.Time) interface{} {
	if d == nil {
		return nil
	}
	return dateOnly(*d)
}
