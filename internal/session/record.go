// Package session holds the per-user session record, the in-memory cache and
// the cache-aside manager that mirrors mutations to a durable store.
package session

import "time"

// Conversation states stored on a record. The dialog layer branches on them;
// the session core only stores and compares them.
const (
	StateDefault      = "DEFAULT"
	StateAwaitingCity = "AWAITING_CITY"
	StateAwaitingTime = "AWAITING_NOTIFICATION_TIME"
	StateInactive     = "INACTIVE"
)

// Record is the per-user session state, one per user keyed by the chat id.
type Record struct {
	UserID               int64
	City                 string
	State                string
	Active               bool
	NotificationTime     *ClockTime
	NotificationsEnabled bool
	LastNotificationSent *time.Time // date-only watermark
	LastActivity         time.Time
	CreatedAt            time.Time
}

// NewRecord creates a fresh record with notifications disabled.
func NewRecord(userID int64, city, state string, active bool) Record {
	now := time.Now()
	return Record{
		UserID:       userID,
		City:         city,
		State:        state,
		Active:       active,
		LastActivity: now,
		CreatedAt:    now,
	}
}

// HasNotification reports whether this record describes a deliverable daily
// notification: enabled, with a time and a city.
func (r *Record) HasNotification() bool {
	return r.NotificationsEnabled && r.NotificationTime != nil && r.City != ""
}

// EnableNotifications turns the daily notification on. All three fields of
// the HasNotification invariant are set together.
func (r *Record) EnableNotifications(city string, t ClockTime) {
	r.City = city
	r.NotificationTime = &t
	r.NotificationsEnabled = true
}

// DisableNotifications turns the daily notification off, clearing the time
// alongside the flag. Safe to call on an already-disabled record.
func (r *Record) DisableNotifications() {
	r.NotificationsEnabled = false
	r.NotificationTime = nil
}

// SentOn reports whether the watermark matches the given calendar day.
func (r *Record) SentOn(day time.Time) bool {
	return r.LastNotificationSent != nil && sameDate(*r.LastNotificationSent, day)
}

// Clone returns a deep copy so cached records never share pointers with
// callers.
func (r Record) Clone() Record {
	out := r
	if r.NotificationTime != nil {
		t := *r.NotificationTime
		out.NotificationTime = &t
	}
	if r.LastNotificationSent != nil {
		d := *r.LastNotificationSent
		out.LastNotificationSent = &d
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
