package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/common/metrics"
	"weatherbot/internal/session"
)

type fakeClient struct {
	mu       sync.Mutex
	name     string
	inactive map[int64]bool
	failFor  map[int64]error
	sent     map[int64][]string
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{
		name:     name,
		inactive: make(map[int64]bool),
		failFor:  make(map[int64]error),
		sent:     make(map[int64][]string),
	}
}

func (c *fakeClient) IsUserSessionActive(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.inactive[userID]
}

func (c *fakeClient) SendNotificationToUser(ctx context.Context, userID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[userID]; err != nil {
		return err
	}
	c.sent[userID] = append(c.sent[userID], text)
	return nil
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) sentTo(userID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent[userID]...)
}

// schedulerFixture wires a cache-only session manager, the service and a
// scheduler whose clock is fully controlled by the test.
type schedulerFixture struct {
	mgr    *session.Manager
	svc    *Service
	sched  *Scheduler
	client *fakeClient
}

func newSchedulerFixture(t *testing.T, fc *fakeForecaster) *schedulerFixture {
	t.Helper()
	mgr := session.NewManager(nil, session.ManagerOptions{}, logger.NewTestLogger(t), nil)
	t.Cleanup(mgr.Close)

	svc := NewService(mgr, fc, logger.NewTestLogger(t))
	client := newFakeClient("test")
	sched := NewScheduler(svc, []Client{client}, 30*time.Second, 60*time.Second, logger.NewTestLogger(t), nil)

	return &schedulerFixture{mgr: mgr, svc: svc, sched: sched, client: client}
}

// at pins the scheduler's clock to the given instant; the same instant is
// what gets claimed and stamped as the delivery watermark.
func (f *schedulerFixture) at(now time.Time) {
	f.sched.now = func() time.Time { return now }
}

func TestSchedulerDue(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{})
	target := session.ClockTime{Hour: 9, Minute: 0}
	day := func(h, m, s int) time.Time {
		return time.Date(2024, 3, 15, h, m, s, 0, time.UTC)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exactly on time", day(9, 0, 0), true},
		{"just before", day(8, 59, 1), true},
		{"window start", day(8, 59, 0), true},
		{"window end", day(9, 1, 0), true},
		{"just inside", day(9, 0, 59), true},
		{"just past window", day(9, 1, 1), false},
		{"just before window", day(8, 58, 59), false},
		{"hours away", day(15, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.sched.due(tt.now, target))
		})
	}
}

func TestSchedulerDeliversDueNotification(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)

	msgs := f.client.sentTo(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "🔔 Daily weather for Berlin:")
	assert.Contains(t, msgs[0], "sunny")
}

func TestSchedulerSkipsWhenNotDue(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	f.at(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	f.sched.cycle(ctx)

	assert.Empty(t, f.client.sentTo(1))
}

func TestSchedulerConsecutiveCyclesDeliverOnce(t *testing.T) {
	// Two cycles 30 seconds apart both fall inside the 60-second window.
	// The watermark claim must keep the second one from delivering again.
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	f.at(time.Date(2024, 3, 15, 9, 0, 40, 0, time.UTC))
	f.sched.cycle(ctx)

	assert.Len(t, f.client.sentTo(1), 1, "one delivery per user per day")
}

func TestSchedulerDeliversAgainNextDay(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	f.at(time.Date(2024, 3, 16, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)

	assert.Len(t, f.client.sentTo(1), 2, "the watermark covers a single calendar day")
}

func TestSchedulerFailedSendRetriesNextCycle(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	f.client.failFor[1] = errors.New("network down")
	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Empty(t, f.client.sentTo(1))

	// The failed claim was released, so the next in-window cycle retries.
	delete(f.client.failFor, 1)
	f.at(time.Date(2024, 3, 15, 9, 0, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Len(t, f.client.sentTo(1), 1)
}

func TestSchedulerDigestFailureReleasesClaim(t *testing.T) {
	fc := &fakeForecaster{digestErr: errors.New("upstream timeout")}
	f := newSchedulerFixture(t, fc)
	ctx := context.Background()

	fc.digestErr = nil
	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)
	fc.digestErr = errors.New("upstream timeout")

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Empty(t, f.client.sentTo(1))

	fc.digestErr = nil
	f.at(time.Date(2024, 3, 15, 9, 0, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Len(t, f.client.sentTo(1), 1)
}

func TestSchedulerPanicReleasesClaim(t *testing.T) {
	// A forecaster blowing up mid-delivery must not burn the day's claim:
	// the next in-window cycle has to retry and deliver.
	fc := &fakeForecaster{digest: "sunny"}
	f := newSchedulerFixture(t, fc)
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)

	fc.panicNext = true
	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Empty(t, f.client.sentTo(1))

	f.at(time.Date(2024, 3, 15, 9, 0, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Len(t, f.client.sentTo(1), 1, "claim released after panic, retried next cycle")
}

func TestSchedulerWatermarkCarriesClaimedDay(t *testing.T) {
	// A delivery claimed just before midnight must stamp the claimed day,
	// even if the stamp lands after the date has rolled over. Otherwise the
	// next day's delivery would be suppressed.
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "23:59")
	require.NoError(t, err)

	f.at(time.Date(2024, 3, 15, 23, 59, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	require.Len(t, f.client.sentTo(1), 1)

	rec, ok := f.mgr.GetSession(ctx, 1)
	require.True(t, ok)
	require.NotNil(t, rec.LastNotificationSent)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *rec.LastNotificationSent)

	f.at(time.Date(2024, 3, 16, 23, 59, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Len(t, f.client.sentTo(1), 2, "next day's delivery is not suppressed")
}

func TestSchedulerCycleDurationIgnoresSimulatedClock(t *testing.T) {
	// The cycle duration metric measures real elapsed time; a pinned clock
	// far in the past must not leak into it.
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	f.at(time.Date(2000, 1, 1, 9, 0, 0, 0, time.UTC))

	before := cycleDurationSum(t)
	f.sched.cycle(context.Background())
	delta := cycleDurationSum(t) - before

	assert.GreaterOrEqual(t, delta, 0.0)
	assert.Less(t, delta, 60.0, "cycle duration observed in wall time")
}

func cycleDurationSum(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.SchedulerCycleDuration.Write(&m))
	return m.GetHistogram().GetSampleSum()
}

func TestSchedulerSkipsClosedFrontEnds(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)
	f.client.inactive[1] = true

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Empty(t, f.client.sentTo(1))

	// No claim was burned; the user gets the digest once they are back.
	f.client.inactive[1] = false
	f.at(time.Date(2024, 3, 15, 9, 0, 40, 0, time.UTC))
	f.sched.cycle(ctx)
	assert.Len(t, f.client.sentTo(1), 1)
}

func TestSchedulerOneUserFailureDoesNotBlockOthers(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)
	_, err = f.svc.SetNotification(ctx, 2, "Oslo", "09:00")
	require.NoError(t, err)

	f.client.failFor[1] = errors.New("blocked by user")

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)

	assert.Empty(t, f.client.sentTo(1))
	assert.Len(t, f.client.sentTo(2), 1)
}

func TestSchedulerPrefersFirstActiveClient(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{digest: "sunny"})
	secondary := newFakeClient("fallback")
	f.sched.clients = append(f.sched.clients, secondary)
	ctx := context.Background()

	_, err := f.svc.SetNotification(ctx, 1, "Berlin", "09:00")
	require.NoError(t, err)
	f.client.inactive[1] = true

	f.at(time.Date(2024, 3, 15, 9, 0, 10, 0, time.UTC))
	f.sched.cycle(ctx)

	assert.Empty(t, f.client.sentTo(1))
	assert.Len(t, secondary.sentTo(1), 1)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newSchedulerFixture(t, &fakeForecaster{})
	f.sched.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
