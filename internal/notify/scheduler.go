package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/common/metrics"
	"weatherbot/internal/common/observability"
	"weatherbot/internal/session"
)

// Scheduler is the single background loop that delivers due digests. It
// alternates between sleeping for the poll interval and scanning all
// sessions with notifications enabled; cancellation is honored between
// cycles, never mid-cycle.
type Scheduler struct {
	service   *Service
	clients   []Client
	interval  time.Duration
	tolerance time.Duration
	logger    logger.Logger
	obs       *observability.Observability

	now func() time.Time
}

func NewScheduler(service *Service, clients []Client, interval, tolerance time.Duration, log logger.Logger, obs *observability.Observability) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if tolerance <= 0 {
		tolerance = 60 * time.Second
	}
	return &Scheduler{
		service:   service,
		clients:   clients,
		interval:  interval,
		tolerance: tolerance,
		logger:    log.WithFields(map[string]interface{}{"component": "notify-scheduler"}),
		obs:       obs,
	}
}

// Run executes cycles until ctx is cancelled. In-flight deliveries within a
// cycle are allowed to complete.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", map[string]interface{}{
		"interval":  s.interval.String(),
		"tolerance": s.tolerance.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", nil)
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// RunOnce executes a single scan cycle outside the ticker loop.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.cycle(ctx)
}

// SetClock overrides the time source used for due checks. A nil clock
// restores wall time.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// cycle scans every session with a notification and delivers the due ones.
// A failure for one user never aborts the rest of the cycle.
func (s *Scheduler) cycle(ctx context.Context) {
	// Cycle duration is a wall-time measurement; it must not read the
	// injectable clock used for due checks.
	start := time.Now()
	status := "ok"

	sessions := s.service.SessionsForNotificationCheck(ctx)
	for _, rec := range sessions {
		s.evaluate(ctx, rec)
	}

	elapsed := time.Since(start)
	metrics.SchedulerCycles.Inc()
	metrics.SchedulerCycleDuration.Observe(elapsed.Seconds())
	if s.obs != nil {
		s.obs.RecordCycle(ctx, status)
		s.obs.RecordCycleDuration(ctx, elapsed, status)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, rec session.Record) {
	now := s.clock()()
	claimed := false
	delivered := false

	// A panic after the claim would otherwise burn the user's watermark for
	// the whole day; release it so the next cycle retries.
	defer func() {
		if r := recover(); r != nil {
			if claimed && !delivered {
				s.service.ReleaseDailySend(rec.UserID, now)
			}
			s.logger.Error("panic while evaluating session", map[string]interface{}{
				"userId": rec.UserID,
				"panic":  r,
			})
		}
	}()

	if !rec.HasNotification() {
		return
	}

	client := s.activeClient(rec.UserID)
	if client == nil {
		return // front end closed; the row stays for when the user comes back
	}

	if !s.due(now, *rec.NotificationTime) {
		return
	}

	// Atomic check-and-claim of the watermark: one winner per user per day,
	// even when consecutive cycles both land inside the tolerance window.
	if !s.service.ClaimDailySend(rec.UserID, now) {
		return
	}
	claimed = true

	deliveryID := uuid.NewString()

	text, ok := s.service.WeatherDigest(ctx, rec.UserID)
	if !ok {
		// Nothing deliverable; release so the next cycle retries.
		s.service.ReleaseDailySend(rec.UserID, now)
		metrics.NotificationFailures.WithLabelValues(client.Name(), "digest").Inc()
		return
	}

	if err := client.SendNotificationToUser(ctx, rec.UserID, text); err != nil {
		s.service.ReleaseDailySend(rec.UserID, now)
		metrics.NotificationFailures.WithLabelValues(client.Name(), "transport").Inc()
		s.logger.Warn("digest delivery failed", map[string]interface{}{
			"userId":     rec.UserID,
			"client":     client.Name(),
			"deliveryId": deliveryID,
			"error":      err.Error(),
		})
		return
	}

	delivered = true
	// The watermark carries the claimed day, not the wall clock at stamp
	// time, so a delivery straddling midnight cannot suppress the next day.
	s.service.MarkNotificationSent(ctx, rec.UserID, now)
	metrics.NotificationsSent.WithLabelValues(client.Name()).Inc()
	s.logger.Info("digest delivered", map[string]interface{}{
		"userId":     rec.UserID,
		"client":     client.Name(),
		"deliveryId": deliveryID,
		"time":       now.Format("15:04:05"),
	})
}

// activeClient returns the first client reporting a live channel for the
// user, or nil when every front end considers the session closed.
func (s *Scheduler) activeClient(userID int64) Client {
	for _, c := range s.clients {
		if c.IsUserSessionActive(userID) {
			return c
		}
	}
	return nil
}

// due reports whether now falls inside the tolerance window around the
// configured delivery time, measured in seconds of day.
func (s *Scheduler) due(now time.Time, target session.ClockTime) bool {
	nowSeconds := now.Hour()*3600 + now.Minute()*60 + now.Second()
	targetSeconds := target.SecondOfDay()

	diff := nowSeconds - targetSeconds
	if diff < 0 {
		diff = -diff
	}
	return diff <= int(s.tolerance.Seconds())
}

func (s *Scheduler) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}
