package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_NotificationInvariant(t *testing.T) {
	// Enabling and disabling in any order must keep HasNotification
	// equivalent to "enabled and time set and city set".
	rng := rand.New(rand.NewSource(42))
	rec := NewRecord(1, "", StateDefault, true)

	for i := 0; i < 1000; i++ {
		if rng.Intn(2) == 0 {
			rec.EnableNotifications("Berlin", ClockTime{Hour: rng.Intn(24), Minute: rng.Intn(60)})
		} else {
			rec.DisableNotifications()
		}

		expected := rec.NotificationsEnabled && rec.NotificationTime != nil && rec.City != ""
		assert.Equal(t, expected, rec.HasNotification())

		if rec.NotificationsEnabled {
			assert.NotNil(t, rec.NotificationTime, "enable must set the time")
			assert.NotEmpty(t, rec.City, "enable must set the city")
		} else {
			assert.Nil(t, rec.NotificationTime, "disable must clear the time")
		}
	}
}

func TestRecord_DisableIsIdempotent(t *testing.T) {
	rec := NewRecord(7, "Paris", StateDefault, true)
	rec.EnableNotifications("Paris", ClockTime{Hour: 9})

	rec.DisableNotifications()
	once := rec.Clone()

	rec.DisableNotifications()
	assert.Equal(t, once, rec)
	assert.False(t, rec.HasNotification())
}

func TestRecord_SentOn(t *testing.T) {
	rec := NewRecord(1, "Berlin", StateDefault, true)
	today := time.Date(2025, 5, 12, 14, 30, 0, 0, time.UTC)

	assert.False(t, rec.SentOn(today))

	mark := dateOnly(today)
	rec.LastNotificationSent = &mark
	assert.True(t, rec.SentOn(today))
	assert.True(t, rec.SentOn(today.Add(5*time.Hour)), "same calendar day, different time")
	assert.False(t, rec.SentOn(today.AddDate(0, 0, 1)))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := NewRecord(1, "Berlin", StateDefault, true)
	rec.EnableNotifications("Berlin", ClockTime{Hour: 9})
	mark := dateOnly(time.Now())
	rec.LastNotificationSent = &mark

	clone := rec.Clone()
	require.NotNil(t, clone.NotificationTime)

	clone.NotificationTime.Hour = 23
	clone.LastNotificationSent = nil

	assert.Equal(t, 9, rec.NotificationTime.Hour)
	assert.NotNil(t, rec.LastNotificationSent)
}
