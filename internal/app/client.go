package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"carealert/internal/clock"
	"carealert/internal/config"
	"carealert/internal/credential"
	"carealert/internal/dedup"
	"carealert/internal/domain"
	"carealert/internal/kv"
	"carealert/internal/lockout"
	"carealert/internal/logging"
	"carealert/internal/metrics"
	"carealert/internal/poller"
	"carealert/internal/realtime"
)

// pushObserveTimeout bounds notification delivery for one pushed alert;
// it runs on the websocket read goroutine, so frames wait behind it.
const pushObserveTimeout = 15 * time.Second

// Backend is the REST surface used by polling and acknowledgment.
type Backend interface {
	ListAlerts(ctx context.Context) ([]domain.Alert, error)
	ConfirmAlert(ctx context.Context, alertID int64) error
}

// ClientDeps holds collaborators injected into Client.
// Params: store, notifier, REST backend, optional dialer/clock/logger/metrics.
// Returns: dependency bundle for NewClient.
type ClientDeps struct {
	Store    kv.Store
	Notifier dedup.Notifier
	Backend  Backend
	Dialer   realtime.Dialer
	Clock    clock.Timekeeper
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Client is the realtime alert delivery core seen by the caregiver UI.
type Client struct {
	logger         *slog.Logger
	fallback       bool
	sweep          time.Duration
	observeTimeout time.Duration

	events    *realtime.Dispatcher
	conn      *realtime.Manager
	tracker   *dedup.Tracker
	locks     *lockout.Manager
	responder *lockout.Responder
	poller    *poller.Poller

	mu         sync.Mutex
	pushCtx    context.Context
	pushCancel context.CancelFunc
	disposers  []realtime.Disposer
}

// NewClient wires dispatcher, connection manager, tracker, lockout, and poller.
// Params: validated config and collaborators.
// Returns: client ready for Load and Connect.
func NewClient(cfg config.Config, deps ClientDeps) *Client {
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := logging.Component(deps.Logger, "client")

	events := realtime.NewDispatcher(deps.Logger, deps.Metrics)
	tracker := dedup.NewTracker(deps.Store, deps.Notifier, deps.Logger, deps.Metrics)
	locks := lockout.NewManager(deps.Store, clk, cfg.Lockout.Duration(), deps.Logger, deps.Metrics)

	c := &Client{
		logger:         logger,
		fallback:       cfg.Poller.UsesFallback(cfg.Service.PushToken),
		sweep:          cfg.Lockout.SweepInterval(),
		observeTimeout: pushObserveTimeout,
		events:         events,
		conn:           realtime.NewManager(realtime.OptionsFromConfig(cfg.Realtime), deps.Dialer, clk, events, deps.Logger, deps.Metrics),
		tracker:        tracker,
		locks:          locks,
		responder:      lockout.NewResponder(locks, deps.Backend, deps.Logger),
		poller:         poller.New(deps.Backend, tracker, clk, cfg.Poller.Interval(), deps.Logger, deps.Metrics),
	}
	c.pushCtx, c.pushCancel = context.WithCancel(context.Background())
	c.disposers = append(c.disposers, events.SubscribeMessage(c.onMessage))
	return c
}

// Load restores the last-seen id and lock table from durable storage.
// Params: context.
// Returns: joined read errors; both components still start with empty state.
func (c *Client) Load(ctx context.Context) error {
	var errs []error
	if err := c.tracker.Load(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load last alert id: %w", err))
	}
	if err := c.locks.Load(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load lock table: %w", err))
	}
	return errors.Join(errs...)
}

// Connect opens the realtime channel for subject and starts fallback polling when enabled.
// Params: context, logged-in subject, and token source queried on every attempt.
// Returns: token error of the first attempt.
func (c *Client) Connect(ctx context.Context, subject credential.Subject, tokens credential.TokenSource) error {
	if err := c.conn.Connect(ctx, subject, tokens); err != nil {
		return err
	}
	if c.fallback {
		c.poller.Start(c.baseContext())
	}
	return nil
}

// Disconnect closes the channel without reconnecting and stops polling.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
	c.poller.Stop()
}

// SubscribeMessage registers handler for decoded inbound events.
func (c *Client) SubscribeMessage(handler realtime.MessageHandler) realtime.Disposer {
	return c.events.SubscribeMessage(handler)
}

// SubscribeError registers handler for transport errors.
func (c *Client) SubscribeError(handler realtime.ErrorHandler) realtime.Disposer {
	return c.events.SubscribeError(handler)
}

// SubscribeClose registers handler for channel closures.
func (c *Client) SubscribeClose(handler realtime.CloseHandler) realtime.Disposer {
	return c.events.SubscribeClose(handler)
}

// IsConnected reports whether the channel is open.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// State returns the connection state.
func (c *Client) State() domain.ConnectionState {
	return c.conn.State()
}

// FallbackActive reports whether REST polling replaces push delivery.
func (c *Client) FallbackActive() bool {
	return c.fallback
}

// IsLocked reports whether alertID is inside its acknowledgment window.
func (c *Client) IsLocked(alertID int64) bool {
	return c.locks.IsLocked(alertID)
}

// LockRemaining returns time left on alertID's acknowledgment window.
func (c *Client) LockRemaining(alertID int64) time.Duration {
	return c.locks.Remaining(alertID)
}

// AcquireLock starts or restarts alertID's acknowledgment window.
// Params: context and alert id.
// Returns: unlock time.
func (c *Client) AcquireLock(ctx context.Context, alertID int64) time.Time {
	return c.locks.Acquire(ctx, alertID)
}

// Respond confirms alertID with the backend and locks it on success.
// Params: context and alert id.
// Returns: unlock time, lockout.ErrLocked, or confirmation error.
func (c *Client) Respond(ctx context.Context, alertID int64) (time.Time, error) {
	return c.responder.Respond(ctx, alertID)
}

// CheckForNewAlerts runs one poll unless another is in flight.
// Params: context.
// Returns: whether a poll ran and its error.
func (c *Client) CheckForNewAlerts(ctx context.Context) (bool, error) {
	return c.poller.PollOnce(ctx)
}

// RunSweeper removes expired locks until ctx is done.
func (c *Client) RunSweeper(ctx context.Context) error {
	return c.locks.RunSweeper(ctx, c.sweep)
}

// Logout disconnects, stops polling, and erases both durable keys.
// Params: context.
// Returns: joined store delete errors.
func (c *Client) Logout(ctx context.Context) error {
	c.Disconnect()
	c.mu.Lock()
	c.pushCancel()
	c.pushCtx, c.pushCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	err := errors.Join(c.tracker.Reset(ctx), c.locks.Reset(ctx))
	if err != nil {
		c.logger.Warn("logout cleanup incomplete", "error", err.Error())
		return err
	}
	c.logger.Info("logged out")
	return nil
}

// Shutdown stops polling and the channel, then waits for reader goroutines.
// Params: context bounding the wait.
// Returns: context error when readers did not exit in time.
func (c *Client) Shutdown(ctx context.Context) error {
	c.poller.Stop()
	c.mu.Lock()
	c.pushCancel()
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
	return c.conn.Shutdown(ctx)
}

func (c *Client) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushCtx
}

// onMessage feeds pushed alerts into the tracker. It runs on the read
// goroutine, so delivery retries are cut off after observeTimeout.
func (c *Client) onMessage(event domain.InboundEvent) {
	if event.Kind != domain.EventNewAlert {
		return
	}
	alert, err := domain.DecodeAlertPayload(event.Alert)
	if err != nil {
		c.logger.Warn("pushed alert dropped", "error", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.baseContext(), c.observeTimeout)
	defer cancel()
	if _, err := c.tracker.Observe(ctx, []domain.Alert{alert}); err != nil {
		c.logger.Warn("pushed alert not surfaced", "alert_id", alert.ID, "error", err.Error())
	}
}
