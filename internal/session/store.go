package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by Store lookups when no row exists.
var ErrSessionNotFound = errors.New("session not found")

// Store is the durable backing store for session records. Implementations
// must be safe for concurrent use; the manager calls them from the request
// path, the mirror writer and the scheduler.
type Store interface {
	// Migrate creates the user_sessions table and its indexes if needed.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Upsert inserts or fully replaces the row for rec.UserID.
	Upsert(ctx context.Context, rec Record) error

	// FindByID returns the row for the user or ErrSessionNotFound.
	FindByID(ctx context.Context, userID int64) (Record, error)

	// FindWithNotifications returns all active rows whose notification
	// invariant holds (enabled, time set, city set).
	FindWithNotifications(ctx context.Context) ([]Record, error)

	// FindActive returns all active rows, most recently active first.
	FindActive(ctx context.Context) ([]Record, error)

	// UpdateLastNotificationSent sets the delivery watermark. A zero day
	// clears it.
	UpdateLastNotificationSent(ctx context.Context, userID int64, day time.Time) error

	// UpdateActivity refreshes the last_activity timestamp.
	UpdateActivity(ctx context.Context, userID int64, at time.Time) error

	// Deactivate soft-deletes the row (is_active = false).
	Deactivate(ctx context.Context, userID int64) error

	// PurgeInactive deletes inactive rows whose last activity is older than
	// the cutoff and returns how many were removed.
	PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error)

	// CountWithNotifications returns how many rows would be scanned by the
	// scheduler.
	CountWithNotifications(ctx context.Context) (int, error)
}
