package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"carealert/internal/domain"
	"carealert/internal/kv"
	"carealert/internal/logging"
	"carealert/internal/metrics"
)

// StoreKey is the durable key holding the last surfaced alert id.
const StoreKey = "lastAlertId"

// Notifier raises one local notification.
type Notifier interface {
	Notify(ctx context.Context, notification domain.LocalNotification) error
}

// Tracker suppresses duplicate notifications against a durable last-seen id.
// Params: store, notifier, logger, and metrics.
// Returns: observation API shared by push and poll paths.
type Tracker struct {
	store    kv.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	loaded bool
	has    bool
	last   int64
}

// NewTracker creates tracker; Load runs lazily before the first comparison.
// Params: durable store, notifier, logger, and optional metrics.
// Returns: tracker.
func NewTracker(store kv.Store, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		logger:   logging.Component(logger, "dedup"),
		metrics:  m,
	}
}

// Load reads the last-seen id from the durable store.
// Params: context.
// Returns: store read error, retried by the next Observe; unparsable values are treated as absent.
func (t *Tracker) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(ctx)
}

// loadLocked reads the stored id and merges it with memory. A read error
// leaves loaded false so the next Observe retries; memory is never lowered.
func (t *Tracker) loadLocked(ctx context.Context) error {
	raw, err := t.store.Get(ctx, StoreKey)
	if errors.Is(err, kv.ErrNotFound) {
		t.loaded = true
		t.syncLocked(ctx)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", StoreKey, err)
	}
	t.loaded = true
	value, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		t.logger.Warn("ignoring unparsable last alert id", "value", string(raw), "error", err.Error())
		t.syncLocked(ctx)
		return nil
	}
	if !t.has || value >= t.last {
		t.has = true
		t.last = value
		return nil
	}
	t.syncLocked(ctx)
	return nil
}

// syncLocked writes an id surfaced while the store was unreadable.
func (t *Tracker) syncLocked(ctx context.Context) {
	if t.has {
		t.advanceLocked(ctx, t.last)
	}
}

// Observe compares the newest alert (first element) with the last-seen id.
// Params: context and alerts ordered newest first.
// Returns: true when a notification fired; notifier error leaves the id unchanged.
func (t *Tracker) Observe(ctx context.Context, alerts []domain.Alert) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		if err := t.loadLocked(ctx); err != nil {
			t.logger.Warn("last alert id unavailable", "error", err.Error())
		}
	}
	if len(alerts) == 0 {
		return false, nil
	}
	newest := alerts[0]

	if !t.loaded {
		return t.observeUnloadedLocked(ctx, newest)
	}
	if !t.has {
		t.logger.Debug("recording baseline alert id", "alert_id", newest.ID)
		t.advanceLocked(ctx, newest.ID)
		return false, nil
	}
	if newest.ID <= t.last {
		return false, nil
	}

	if err := t.notifier.Notify(ctx, domain.NewAlertNotification(newest)); err != nil {
		return false, fmt.Errorf("notify alert %d: %w", newest.ID, err)
	}
	t.metrics.IncNotification()
	t.logger.Info("new alert surfaced", "alert_id", newest.ID, "previous", t.last)
	t.advanceLocked(ctx, newest.ID)
	return true, nil
}

// observeUnloadedLocked fails open while the stored id is unknown: it
// notifies anything newer than memory and leaves the stored value untouched.
func (t *Tracker) observeUnloadedLocked(ctx context.Context, newest domain.Alert) (bool, error) {
	if t.has && newest.ID <= t.last {
		return false, nil
	}
	if err := t.notifier.Notify(ctx, domain.NewAlertNotification(newest)); err != nil {
		return false, fmt.Errorf("notify alert %d: %w", newest.ID, err)
	}
	t.metrics.IncNotification()
	t.logger.Warn("alert surfaced without stored id", "alert_id", newest.ID)
	t.has = true
	t.last = newest.ID
	return true, nil
}

// advanceLocked sets the in-memory value and persists it best-effort.
func (t *Tracker) advanceLocked(ctx context.Context, id int64) {
	t.has = true
	t.last = id
	if err := t.store.Put(ctx, StoreKey, []byte(strconv.FormatInt(id, 10))); err != nil {
		t.metrics.IncPersistFailure(StoreKey)
		t.logger.Error("persist last alert id failed", "alert_id", id, "error", err.Error())
	}
}

// LastSeen returns in-memory last-seen id.
// Params: none.
// Returns: id and whether one is recorded.
func (t *Tracker) LastSeen() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.has
}

// Reset forgets the last-seen id durably (logout).
// Params: context.
// Returns: store delete error.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = true
	t.has = false
	t.last = 0
	if err := t.store.Delete(ctx, StoreKey); err != nil {
		return fmt.Errorf("delete %s: %w", StoreKey, err)
	}
	return nil
}
