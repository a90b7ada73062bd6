package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/common/logger"
)

// fakeStore is an in-memory Store with per-method error injection.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[int64]Record
	pingErr error
	findErr error
	scanErr error
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]Record)}
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }

func (f *fakeStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeStore) Upsert(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rec.UserID] = rec.Clone()
	f.upserts++
	return nil
}

func (f *fakeStore) FindByID(ctx context.Context, userID int64) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return Record{}, f.findErr
	}
	rec, ok := f.rows[userID]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeStore) FindWithNotifications(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	var out []Record
	for _, rec := range f.rows {
		if rec.Active && rec.HasNotification() {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) FindActive(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.rows {
		if rec.Active {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateLastNotificationSent(ctx context.Context, userID int64, day time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[userID]
	if !ok {
		return ErrSessionNotFound
	}
	if day.IsZero() {
		rec.LastNotificationSent = nil
	} else {
		d := day
		rec.LastNotificationSent = &d
	}
	f.rows[userID] = rec
	return nil
}

func (f *fakeStore) UpdateActivity(ctx context.Context, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[userID]
	if !ok {
		return ErrSessionNotFound
	}
	rec.LastActivity = at
	f.rows[userID] = rec
	return nil
}

func (f *fakeStore) Deactivate(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[userID]
	if !ok {
		return ErrSessionNotFound
	}
	rec.Active = false
	f.rows[userID] = rec
	return nil
}

func (f *fakeStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.rows {
		if !rec.Active && rec.LastActivity.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountWithNotifications(ctx context.Context) (int, error) {
	recs, err := f.FindWithNotifications(ctx)
	return len(recs), err
}

func (f *fakeStore) row(userID int64) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[userID]
	return rec, ok
}

type recordingListener struct {
	mu        sync.Mutex
	degraded  []string
	recovered int
}

func (l *recordingListener) StoreDegraded(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.degraded = append(l.degraded, reason)
}

func (l *recordingListener) StoreRecovered() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recovered++
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m := NewManager(store, ManagerOptions{
		QueryTimeout:    time.Second,
		MirrorQueueSize: 64,
		MirrorWorkers:   1,
	}, logger.NewTestLogger(t), nil)
	t.Cleanup(m.Close)
	return m
}

func TestManagerCacheOnlyWithoutStore(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.Warm(ctx)
	assert.False(t, m.StoreAvailable())

	m.ActivateSession(ctx, 7, "Berlin")
	rec, ok := m.GetSession(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, "Berlin", rec.City)
	assert.True(t, rec.Active)

	m.EnableNotifications(ctx, 7, "Berlin", ClockTime{Hour: 9, Minute: 0})
	recs := m.SessionsWithNotifications(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(7), recs[0].UserID)
}

func TestManagerWarmPreloadsNotificationSessions(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(42, "Oslo", StateDefault, true)
	rec.EnableNotifications("Oslo", ClockTime{Hour: 8, Minute: 30})
	require.NoError(t, store.Upsert(context.Background(), rec))

	m := newTestManager(t, store)
	m.Warm(context.Background())

	assert.True(t, m.StoreAvailable())
	cached, ok := m.cache.Get(42)
	require.True(t, ok)
	assert.Equal(t, "Oslo", cached.City)
	assert.True(t, cached.HasNotification())
}

func TestManagerGetSessionFallsBackToStore(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(context.Background(), NewRecord(11, "Riga", StateDefault, true)))

	m := newTestManager(t, store)
	m.Warm(context.Background())

	rec, ok := m.GetSession(context.Background(), 11)
	require.True(t, ok)
	assert.Equal(t, "Riga", rec.City)

	// Second read must come from the cache even if the store starts failing.
	store.mu.Lock()
	store.findErr = errors.New("connection refused")
	store.mu.Unlock()

	rec, ok = m.GetSession(context.Background(), 11)
	require.True(t, ok)
	assert.Equal(t, "Riga", rec.City)
	assert.True(t, m.StoreAvailable())
}

func TestManagerDegradesOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	listener := &recordingListener{}
	m := NewManager(store, ManagerOptions{QueryTimeout: time.Second}, logger.NewTestLogger(t), listener)
	t.Cleanup(m.Close)
	m.Warm(context.Background())
	require.True(t, m.StoreAvailable())

	store.mu.Lock()
	store.findErr = errors.New("connection refused")
	store.mu.Unlock()

	_, ok := m.GetSession(context.Background(), 99)
	assert.False(t, ok)
	assert.False(t, m.StoreAvailable(), "a non-miss store error must degrade to cache-only")
	assert.Len(t, listener.degraded, 1)

	// Writes keep landing in the cache while degraded.
	m.ActivateSession(context.Background(), 99, "Lima")
	rec, ok := m.GetSession(context.Background(), 99)
	require.True(t, ok)
	assert.Equal(t, "Lima", rec.City)
}

func TestManagerNotFoundDoesNotDegrade(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)
	m.Warm(context.Background())

	_, ok := m.GetSession(context.Background(), 1234)
	assert.False(t, ok)
	assert.True(t, m.StoreAvailable())
}

func TestManagerMirrorsWrites(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)
	m.Warm(context.Background())

	m.EnableNotifications(context.Background(), 5, "Kyiv", ClockTime{Hour: 7, Minute: 15})
	m.Close() // drain the mirror queue

	rec, ok := store.row(5)
	require.True(t, ok, "durable row must exist after the mirror drained")
	assert.True(t, rec.HasNotification())
	assert.Equal(t, "Kyiv", rec.City)
	assert.Equal(t, "07:15", rec.NotificationTime.String())
}

func TestManagerDisableNotificationsIsIdempotent(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.EnableNotifications(ctx, 3, "Paris", ClockTime{Hour: 18, Minute: 0})
	m.DisableNotifications(ctx, 3)
	m.DisableNotifications(ctx, 3)

	rec, ok := m.GetSession(ctx, 3)
	require.True(t, ok)
	assert.False(t, rec.HasNotification())
	assert.False(t, rec.NotificationsEnabled)
	assert.Nil(t, rec.NotificationTime)
}

func TestManagerClaimDailySendSingleWinner(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	m.EnableNotifications(ctx, 21, "Tokyo", ClockTime{Hour: 9, Minute: 0})

	day := time.Date(2024, 3, 15, 9, 0, 30, 0, time.UTC)

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- m.ClaimDailySend(21, day)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent claimer may win the day")
}

func TestManagerClaimReleaseClaimAgain(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	m.EnableNotifications(ctx, 8, "Madrid", ClockTime{Hour: 12, Minute: 0})

	day := time.Date(2024, 3, 15, 12, 0, 10, 0, time.UTC)

	require.True(t, m.ClaimDailySend(8, day))
	assert.False(t, m.ClaimDailySend(8, day), "claimed day must not be claimable again")

	m.ReleaseDailySend(8, day)
	assert.True(t, m.ClaimDailySend(8, day), "released day must be claimable again")

	// A new day is a fresh claim regardless of yesterday's watermark.
	assert.True(t, m.ClaimDailySend(8, day.AddDate(0, 0, 1)))
}

func TestManagerClaimRequiresNotification(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.ActivateSession(ctx, 2, "Rome")
	assert.False(t, m.ClaimDailySend(2, time.Now()), "no notification configured")

	m.EnableNotifications(ctx, 2, "Rome", ClockTime{Hour: 6, Minute: 45})
	m.DeactivateSession(ctx, 2)
	assert.False(t, m.ClaimDailySend(2, time.Now()), "deactivated session")
}

func TestManagerSessionsWithNotificationsMergesStoreAndCache(t *testing.T) {
	store := newFakeStore()
	stale := NewRecord(77, "Lisbon", StateDefault, true)
	stale.EnableNotifications("Lisbon", ClockTime{Hour: 10, Minute: 0})
	require.NoError(t, store.Upsert(context.Background(), stale))

	m := newTestManager(t, store)
	m.Warm(context.Background())

	// Local mutation not yet mirrored must win over the durable copy.
	m.UpdateCity(context.Background(), 77, "Porto")

	recs := m.SessionsWithNotifications(context.Background())
	require.Len(t, recs, 1)
	assert.Equal(t, "Porto", recs[0].City)
}

func TestManagerSessionsWithNotificationsDegradedFallsBackToCache(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)
	m.Warm(context.Background())

	m.EnableNotifications(context.Background(), 31, "Vienna", ClockTime{Hour: 20, Minute: 30})

	store.mu.Lock()
	store.scanErr = errors.New("connection refused")
	store.mu.Unlock()

	recs := m.SessionsWithNotifications(context.Background())
	require.Len(t, recs, 1)
	assert.Equal(t, int64(31), recs[0].UserID)
	assert.False(t, m.StoreAvailable())
}

func TestManagerDeactivateEvictsAndMirrors(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)
	m.Warm(context.Background())

	m.ActivateSession(context.Background(), 50, "Cairo")
	m.DeactivateSession(context.Background(), 50)
	m.Close()

	_, ok := m.cache.Get(50)
	assert.False(t, ok, "deactivated session must leave the cache")
	rec, ok := store.row(50)
	require.True(t, ok)
	assert.False(t, rec.Active)
}
