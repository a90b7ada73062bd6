// Package notify implements the daily digest business operations and the
// delivery scheduler on top of the session manager.
package notify

import (
	"context"
	"fmt"
	"time"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/session"
)

// SessionManager is the slice of the session manager the notification layer
// uses.
type SessionManager interface {
	GetSession(ctx context.Context, userID int64) (session.Record, bool)
	EnableNotifications(ctx context.Context, userID int64, city string, t session.ClockTime)
	DisableNotifications(ctx context.Context, userID int64)
	MarkNotificationSent(ctx context.Context, userID int64, day time.Time)
	ClaimDailySend(userID int64, day time.Time) bool
	ReleaseDailySend(userID int64, day time.Time)
	SessionsWithNotifications(ctx context.Context) []session.Record
}

// Forecaster is the external forecast collaborator.
type Forecaster interface {
	ResolveCity(ctx context.Context, city string) error
	Digest(ctx context.Context, city string) (string, error)
}

// Service exposes the user-facing notification operations. All methods
// return human-readable outcomes; only SetNotification can fail, and only
// on validation.
type Service struct {
	sessions SessionManager
	weather  Forecaster
	logger   logger.Logger
}

func NewService(sessions SessionManager, weather Forecaster, log logger.Logger) *Service {
	return &Service{
		sessions: sessions,
		weather:  weather,
		logger:   log.WithFields(map[string]interface{}{"component": "notify-service"}),
	}
}

// SetNotification validates the time string and the city, then enables the
// daily digest. The returned string is a ready-to-display confirmation.
func (s *Service) SetNotification(ctx context.Context, userID int64, city, timeString string) (string, error) {
	t, err := session.ParseClockTime(timeString)
	if err != nil {
		return "", err
	}

	// Fail fast on cities the forecast provider cannot resolve.
	if err := s.weather.ResolveCity(ctx, city); err != nil {
		return "", fmt.Errorf("cannot resolve city %q: %w", city, err)
	}

	s.sessions.EnableNotifications(ctx, userID, city, t)

	s.logger.Info("notification enabled", map[string]interface{}{
		"userId": userID,
		"city":   city,
		"time":   t.String(),
	})

	return fmt.Sprintf(
		"✅ Notification set!\n🏙 City: %s\n⏰ Time: %s\n\nEvery day at this time you will receive the weather forecast.",
		city, t,
	), nil
}

// CancelNotification disables the daily digest. Cancelling an already
// disabled notification succeeds the same way.
func (s *Service) CancelNotification(ctx context.Context, userID int64) string {
	s.sessions.DisableNotifications(ctx, userID)
	s.logger.Info("notification cancelled", map[string]interface{}{"userId": userID})
	return "❌ Notification cancelled"
}

// NotificationInfo renders the current notification settings.
func (s *Service) NotificationInfo(ctx context.Context, userID int64) string {
	rec, ok := s.sessions.GetSession(ctx, userID)
	if !ok || !rec.HasNotification() {
		return "❌ You have no active notifications"
	}
	return fmt.Sprintf("🔔 Active notification:\nCity: %s\nTime: %s", rec.City, rec.NotificationTime)
}

// WeatherDigest composes the daily digest text for the user's city. The
// second return value is false when there is nothing deliverable: no city
// configured, or the forecast collaborator failed (in which case the text
// still carries a displayable error message).
func (s *Service) WeatherDigest(ctx context.Context, userID int64) (string, bool) {
	rec, ok := s.sessions.GetSession(ctx, userID)
	if !ok || rec.City == "" {
		return "", false
	}

	digest, err := s.weather.Digest(ctx, rec.City)
	if err != nil {
		s.logger.Warn("digest composition failed", map[string]interface{}{
			"userId": userID,
			"city":   rec.City,
			"error":  err.Error(),
		})
		return fmt.Sprintf("❌ Could not fetch the weather for %s: %v", rec.City, err), false
	}

	return fmt.Sprintf("🔔 Daily weather for %s:\n\n%s", rec.City, digest), true
}

// SessionsForNotificationCheck is the scheduler's view of all sessions with
// notifications enabled.
func (s *Service) SessionsForNotificationCheck(ctx context.Context) []session.Record {
	return s.sessions.SessionsWithNotifications(ctx)
}

// MarkNotificationSent durably records a delivery against the day it was
// claimed for.
func (s *Service) MarkNotificationSent(ctx context.Context, userID int64, day time.Time) {
	s.sessions.MarkNotificationSent(ctx, userID, day)
}

// ClaimDailySend and ReleaseDailySend expose the manager's atomic watermark
// claim to the scheduler.
func (s *Service) ClaimDailySend(userID int64, day time.Time) bool {
	return s.sessions.ClaimDailySend(userID, day)
}

func (s *Service) ReleaseDailySend(userID int64, day time.Time) {
	s.sessions.ReleaseDailySend(userID, day)
}
