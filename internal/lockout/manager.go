package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"carealert/internal/clock"
	"carealert/internal/kv"
	"carealert/internal/logging"
	"carealert/internal/metrics"
)

// StoreKey is the durable key holding the lockout snapshot.
const StoreKey = "bloqueosYaVoy"

// Manager gates the acknowledgment action per alert for a fixed window.
// The whole map is one persisted snapshot; mu serializes every
// load-mutate-persist sequence so concurrent acquires cannot lose updates.
type Manager struct {
	store    kv.Store
	clock    clock.Timekeeper
	duration time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[int64]int64
}

// NewManager creates lockout manager with an empty in-memory map.
// Params: durable store, clock driving expiry and sweeps, lockout duration, logger, and optional metrics.
// Returns: manager; call Load before first use.
func NewManager(store kv.Store, clk clock.Timekeeper, duration time.Duration, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{
		store:    store,
		clock:    clk,
		duration: duration,
		logger:   logging.Component(logger, "lockout"),
		metrics:  m,
		entries:  make(map[int64]int64),
	}
}

// Load replaces memory with the persisted snapshot and sweeps it once.
// Params: context.
// Returns: store read error; memory stays empty on failure.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[int64]int64)
	raw, err := m.store.Get(ctx, StoreKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", StoreKey, err)
	}

	var snapshot map[string]int64
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		m.logger.Warn("ignoring unparsable lockout snapshot", "error", err.Error())
		return nil
	}
	for key, unlockAt := range snapshot {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			m.logger.Warn("skipping lockout entry with invalid id", "id", key)
			continue
		}
		m.entries[id] = unlockAt
	}
	m.sweepLocked(ctx)
	return nil
}

// IsLocked reports whether alertID has an unexpired entry.
// Params: alert id.
// Returns: true while now < unlockAt.
func (m *Manager) IsLocked(alertID int64) bool {
	return m.Remaining(alertID) > 0
}

// Remaining returns time left in the lockout window.
// Params: alert id.
// Returns: positive duration while locked, zero otherwise.
func (m *Manager) Remaining(alertID int64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlockAt, ok := m.entries[alertID]
	if !ok {
		return 0
	}
	left := time.UnixMilli(unlockAt).Sub(m.clock.Now())
	if left <= 0 {
		return 0
	}
	return left
}

// Acquire locks alertID for the configured window, overwriting any entry.
// Call only after the gated action succeeded.
// Params: context and alert id.
// Returns: unlock time; persistence failures are logged, the lock still holds.
func (m *Manager) Acquire(ctx context.Context, alertID int64) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlockAt := m.clock.Now().Add(m.duration)
	m.entries[alertID] = unlockAt.UnixMilli()
	m.metrics.IncLockAcquired()
	m.logger.Info("lockout acquired", "alert_id", alertID, "unlock_at", unlockAt.Format(time.RFC3339))
	m.persistLocked(ctx)
	return unlockAt
}

// SweepExpired removes expired entries and persists when anything changed.
// Params: context.
// Returns: number of removed entries.
func (m *Manager) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(ctx)
}

func (m *Manager) sweepLocked(ctx context.Context) int {
	nowMillis := m.clock.Now().UnixMilli()
	removed := 0
	for id, unlockAt := range m.entries {
		if unlockAt <= nowMillis {
			delete(m.entries, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("expired lockouts swept", "removed", removed)
		m.persistLocked(ctx)
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is canceled.
// Params: context and sweep interval.
// Returns: nil after cancellation, once no sweep is running.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	var (
		sweepMu sync.Mutex
		timer   clock.Timer
		tick    func()
	)
	tick = func() {
		sweepMu.Lock()
		defer sweepMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		m.SweepExpired(ctx)
		timer = m.clock.AfterFunc(interval, tick)
	}

	sweepMu.Lock()
	timer = m.clock.AfterFunc(interval, tick)
	sweepMu.Unlock()

	<-ctx.Done()
	sweepMu.Lock()
	timer.Stop()
	sweepMu.Unlock()
	return nil
}

// Snapshot returns a copy of alert id to unlock time.
// Params: none.
// Returns: entries including not-yet-swept expired ones.
func (m *Manager) Snapshot() map[int64]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]time.Time, len(m.entries))
	for id, unlockAt := range m.entries {
		out[id] = time.UnixMilli(unlockAt).UTC()
	}
	return out
}

// Reset clears memory and deletes the durable snapshot (logout).
// Params: context.
// Returns: store delete error.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64]int64)
	if err := m.store.Delete(ctx, StoreKey); err != nil {
		return fmt.Errorf("delete %s: %w", StoreKey, err)
	}
	return nil
}

// persistLocked writes the full map as one JSON object keyed by decimal id.
func (m *Manager) persistLocked(ctx context.Context) {
	snapshot := make(map[string]int64, len(m.entries))
	for id, unlockAt := range m.entries {
		snapshot[strconv.FormatInt(id, 10)] = unlockAt
	}
	body, err := json.Marshal(snapshot)
	if err == nil {
		err = m.store.Put(ctx, StoreKey, body)
	}
	if err != nil {
		m.metrics.IncPersistFailure(StoreKey)
		m.logger.Error("persist lockouts failed", "entries", len(snapshot), "error", err.Error())
	}
}
