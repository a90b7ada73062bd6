package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/common/metrics"
)

// AvailabilityListener is told when the durable store changes availability.
// alert.OpsNotifier satisfies it; NopListener is the default.
type AvailabilityListener interface {
	StoreDegraded(reason string)
	StoreRecovered()
}

type NopListener struct{}

func (NopListener) StoreDegraded(string) {}
func (NopListener) StoreRecovered()      {}

// ManagerOptions tunes the cache-aside manager.
type ManagerOptions struct {
	QueryTimeout    time.Duration
	Retention       time.Duration
	ProbeInterval   time.Duration
	MirrorQueueSize int
	MirrorWorkers   int
}

func (o *ManagerOptions) applyDefaults() {
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 30 * time.Second
	}
}

// Manager is the cache-aside session store. Reads and writes go through the
// in-memory cache first; mutations are mirrored to the durable store
// asynchronously and best-effort. When the store is unreachable the manager
// keeps running in cache-only mode and a background probe restores it.
type Manager struct {
	cache     *Cache
	store     Store
	writer    *mirrorWriter
	available atomic.Bool
	listener  AvailabilityListener
	logger    logger.Logger
	opts      ManagerOptions

	now func() time.Time
}

// NewManager builds a manager over the given store. A nil store means
// cache-only mode from the start (the durable layer was never configured or
// failed to initialize).
func NewManager(store Store, opts ManagerOptions, log logger.Logger, listener AvailabilityListener) *Manager {
	opts.applyDefaults()
	if listener == nil {
		listener = NopListener{}
	}

	m := &Manager{
		cache:    NewCache(),
		store:    store,
		listener: listener,
		logger:   log.WithFields(map[string]interface{}{"component": "session-manager"}),
		opts:     opts,
		now:      time.Now,
	}

	if store != nil {
		m.writer = newMirrorWriter(store, opts.MirrorQueueSize, opts.MirrorWorkers,
			opts.QueryTimeout, log, func(err error) {
				m.degrade("mirror write failed: " + err.Error())
			})
	}
	metrics.SessionStoreAvailable.Set(0)

	return m
}

// Warm pings and migrates the durable store, then preloads the cache with
// the notification-enabled subset so the scheduler can run before any user
// interaction. Store failures leave the manager in cache-only mode.
func (m *Manager) Warm(ctx context.Context) {
	if m.store == nil {
		m.logger.Warn("no durable store configured, running cache-only", nil)
		return
	}

	if err := m.store.Ping(ctx); err != nil {
		m.degrade("store unreachable at startup: " + err.Error())
		return
	}
	if err := m.store.Migrate(ctx); err != nil {
		m.degrade("store migration failed: " + err.Error())
		return
	}
	m.restore()

	recs, err := m.store.FindWithNotifications(ctx)
	if err != nil {
		m.degrade("warmup scan failed: " + err.Error())
		return
	}
	for _, rec := range recs {
		m.cache.PutIfAbsent(rec)
	}
	m.logger.Info("session cache warmed", map[string]interface{}{
		"sessions": len(recs),
	})
}

// Start launches the availability probe and the retention sweep. Both stop
// when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go m.probeLoop(ctx)
	go m.retentionLoop(ctx)
}

// Close drains the pending durable writes.
func (m *Manager) Close() {
	if m.writer != nil {
		m.writer.close()
	}
}

// StoreAvailable reports whether the durable store is currently usable.
func (m *Manager) StoreAvailable() bool {
	return m.available.Load()
}

// GetSession returns the cached record, falling back to a durable lookup on
// a miss. Store failures read as absent.
func (m *Manager) GetSession(ctx context.Context, userID int64) (Record, bool) {
	if rec, ok := m.cache.Get(userID); ok {
		return rec, true
	}

	if !m.StoreAvailable() {
		return Record{}, false
	}

	rec, err := m.store.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.degrade("session lookup failed: " + err.Error())
		}
		return Record{}, false
	}

	m.cache.PutIfAbsent(rec)
	if cached, ok := m.cache.Get(userID); ok {
		return cached, true
	}
	return rec, true
}

// CreateOrUpdateSession replaces the user's record wholesale.
func (m *Manager) CreateOrUpdateSession(ctx context.Context, userID int64, city, state string, active bool) {
	rec := NewRecord(userID, city, state, active)
	m.cache.Put(rec)
	m.mirrorUpsert(rec)
}

// ActivateSession opens a fresh session in the default dialog state.
func (m *Manager) ActivateSession(ctx context.Context, userID int64, city string) {
	m.CreateOrUpdateSession(ctx, userID, city, StateDefault, true)
}

// DeactivateSession soft-deletes the session and evicts it from the cache.
func (m *Manager) DeactivateSession(ctx context.Context, userID int64) {
	m.mirror(func(ctx context.Context, st Store) error {
		return st.Deactivate(ctx, userID)
	})
	m.cache.Delete(userID)
}

// UpdateCity changes the user's selected city. No-op when the session is
// unknown.
func (m *Manager) UpdateCity(ctx context.Context, userID int64, city string) {
	if _, ok := m.GetSession(ctx, userID); !ok {
		return
	}
	rec, ok := m.cache.Update(userID, func(r *Record) {
		r.City = city
	})
	if ok {
		m.mirrorUpsert(rec)
	}
}

// UpdateState moves the dialog state and refreshes the activity timestamp.
func (m *Manager) UpdateState(ctx context.Context, userID int64, state string) {
	if _, ok := m.GetSession(ctx, userID); !ok {
		return
	}
	rec, ok := m.cache.Update(userID, func(r *Record) {
		r.State = state
		r.LastActivity = m.now()
	})
	if ok {
		m.mirrorUpsert(rec)
	}
}

// UpdateActivity refreshes the activity timestamp used by retention.
func (m *Manager) UpdateActivity(ctx context.Context, userID int64) {
	at := m.now()
	if _, ok := m.cache.Update(userID, func(r *Record) {
		r.LastActivity = at
	}); !ok {
		return
	}
	m.mirror(func(ctx context.Context, st Store) error {
		return st.UpdateActivity(ctx, userID, at)
	})
}

// EnableNotifications turns on the daily digest, creating the session when
// absent. City, time and flag move together so the notification invariant
// holds on every path.
func (m *Manager) EnableNotifications(ctx context.Context, userID int64, city string, t ClockTime) {
	m.GetSession(ctx, userID) // pull a durable row into the cache first, if any
	rec := m.cache.Upsert(userID, NewRecord(userID, city, StateDefault, true), func(r *Record) {
		r.EnableNotifications(city, t)
		r.LastActivity = m.now()
	})
	m.mirrorUpsert(rec)
}

// DisableNotifications turns the daily digest off. Idempotent; creates the
// session when absent so the disabled state is durable too.
func (m *Manager) DisableNotifications(ctx context.Context, userID int64) {
	m.GetSession(ctx, userID)
	rec := m.cache.Upsert(userID, NewRecord(userID, "", StateDefault, true), func(r *Record) {
		r.DisableNotifications()
		r.LastActivity = m.now()
	})
	m.mirrorUpsert(rec)
}

// MarkNotificationSent records the delivery watermark for the given day.
func (m *Manager) MarkNotificationSent(ctx context.Context, userID int64, day time.Time) {
	d := dateOnly(day)
	m.cache.Update(userID, func(r *Record) {
		r.LastNotificationSent = &d
	})
	m.mirror(func(ctx context.Context, st Store) error {
		return st.UpdateLastNotificationSent(ctx, userID, d)
	})
}

// ClaimDailySend atomically checks and sets the watermark for the given day
// against the cached record. Exactly one caller per user per day wins; the
// durable mirror happens later via MarkNotificationSent once delivery
// succeeded. Returns false when the notification no longer qualifies.
func (m *Manager) ClaimDailySend(userID int64, day time.Time) bool {
	claimed := false
	d := dateOnly(day)
	m.cache.Update(userID, func(r *Record) {
		if !r.Active || !r.HasNotification() || r.SentOn(day) {
			return
		}
		r.LastNotificationSent = &d
		claimed = true
	})
	return claimed
}

// ReleaseDailySend undoes a claim after a failed delivery so the next cycle
// retries naturally.
func (m *Manager) ReleaseDailySend(userID int64, day time.Time) {
	m.cache.Update(userID, func(r *Record) {
		if r.SentOn(day) {
			r.LastNotificationSent = nil
		}
	})
}

// SessionsWithNotifications returns every session the scheduler should
// evaluate. The durable store is authoritative for membership when it is
// available (it includes rows never pulled into this process); the cached
// copy wins for freshness. In cache-only mode the cache is scanned instead.
func (m *Manager) SessionsWithNotifications(ctx context.Context) []Record {
	if m.StoreAvailable() {
		recs, err := m.store.FindWithNotifications(ctx)
		if err != nil {
			m.degrade("notification scan failed: " + err.Error())
		} else {
			out := make([]Record, 0, len(recs))
			for _, rec := range recs {
				m.cache.PutIfAbsent(rec)
				if cached, ok := m.cache.Get(rec.UserID); ok {
					rec = cached
				}
				if rec.Active && rec.HasNotification() {
					out = append(out, rec)
				}
			}
			return out
		}
	}

	var out []Record
	for _, rec := range m.cache.Snapshot() {
		if rec.Active && rec.HasNotification() {
			out = append(out, rec)
		}
	}
	return out
}

// ActiveSessions lists all live sessions, durable store first.
func (m *Manager) ActiveSessions(ctx context.Context) []Record {
	if m.StoreAvailable() {
		recs, err := m.store.FindActive(ctx)
		if err == nil {
			return recs
		}
		m.degrade("active session scan failed: " + err.Error())
	}

	var out []Record
	for _, rec := range m.cache.Snapshot() {
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out
}

// NotificationSessionCount reports how many sessions the scheduler would
// scan. Used for startup logging.
func (m *Manager) NotificationSessionCount(ctx context.Context) int {
	if m.StoreAvailable() {
		if n, err := m.store.CountWithNotifications(ctx); err == nil {
			return n
		}
	}
	return len(m.SessionsWithNotifications(ctx))
}

func (m *Manager) mirrorUpsert(rec Record) {
	m.mirror(func(ctx context.Context, st Store) error {
		return st.Upsert(ctx, rec)
	})
}

// mirror schedules a durable write. Skipped silently in degraded mode; the
// cache stays authoritative for the process lifetime either way.
func (m *Manager) mirror(op mirrorOp) {
	if m.writer == nil || !m.StoreAvailable() {
		return
	}
	m.writer.enqueue(op)
}

func (m *Manager) degrade(reason string) {
	if m.available.CompareAndSwap(true, false) {
		metrics.SessionStoreAvailable.Set(0)
		m.logger.Error("durable store degraded, continuing cache-only", map[string]interface{}{
			"reason": reason,
		})
		m.listener.StoreDegraded(reason)
	}
}

func (m *Manager) restore() {
	if m.available.CompareAndSwap(false, true) {
		metrics.SessionStoreAvailable.Set(1)
		m.logger.Info("durable store available", nil)
		m.listener.StoreRecovered()
	}
}

func (m *Manager) probeLoop(ctx context.Context) {
	if m.store == nil {
		return
	}

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.opts.QueryTimeout)
			err := m.store.Ping(probeCtx)
			cancel()
			if err != nil {
				m.degrade("probe failed: " + err.Error())
			} else {
				m.restore()
			}
		}
	}
}

func (m *Manager) retentionLoop(ctx context.Context) {
	if m.store == nil {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.StoreAvailable() {
				continue
			}
			cutoff := m.now().Add(-m.opts.Retention)
			n, err := m.store.PurgeInactive(ctx, cutoff)
			if err != nil {
				m.logger.Warn("retention sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if n > 0 {
				m.logger.Info("purged stale sessions", map[string]interface{}{
					"count": n,
				})
			}
		}
	}
}
