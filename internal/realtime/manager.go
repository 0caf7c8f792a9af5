package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"carealert/internal/clock"
	"carealert/internal/config"
	"carealert/internal/credential"
	"carealert/internal/domain"
	"carealert/internal/logging"
	"carealert/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait     = 5 * time.Second
	maxFrameBytes = 1 << 20
)

// Dialer opens websocket connections; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options controls endpoint, backoff, and heartbeat behavior.
type Options struct {
	URL               string
	TokenParam        string
	BaseDelay         time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	PingText          string
	HandshakeTimeout  time.Duration
}

// OptionsFromConfig maps realtime config section to manager options.
// Params: realtime config with defaults applied.
// Returns: manager options.
func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		URL:               cfg.URL,
		TokenParam:        cfg.TokenParam,
		BaseDelay:         cfg.ReconnectBaseDelay(),
		MaxAttempts:       cfg.ReconnectMaxAttempts,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		PingText:          cfg.PingText,
		HandshakeTimeout:  time.Duration(cfg.HandshakeTimeoutSec) * time.Second,
	}
}

// session is one opened channel; close handling keys off its identity.
type session struct {
	id     string
	conn   *websocket.Conn
	manual bool
}

// Manager owns the single realtime channel and its reconnect state machine.
// Params: options, dialer, scheduler, dispatcher, logger, and metrics.
// Returns: connection lifecycle API.
type Manager struct {
	opts       Options
	dialer     Dialer
	sched      clock.Scheduler
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	state     domain.ConnectionState
	current   *session
	gen       uint64
	attempts  int
	subject   credential.Subject
	tokens    credential.TokenSource
	manual    bool
	reconnect clock.Timer
	heartbeat clock.Timer

	writeMu sync.Mutex
	readers sync.WaitGroup
}

// NewManager creates idle connection manager.
// Params: options, dialer (nil uses gorilla default), scheduler, dispatcher, logger, metrics.
// Returns: manager in Idle state.
func NewManager(opts Options, dialer Dialer, sched clock.Scheduler, dispatcher *Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	if sched == nil {
		sched = clock.RealClock{}
	}
	if opts.TokenParam == "" {
		opts.TokenParam = "token"
	}
	if opts.PingText == "" {
		opts.PingText = "ping"
	}
	mgr := &Manager{
		opts:       opts,
		dialer:     dialer,
		sched:      sched,
		dispatcher: dispatcher,
		logger:     logging.Component(logger, "realtime"),
		metrics:    m,
		state:      domain.StateIdle,
	}
	m.SetConnectionState(domain.StateIdle)
	return mgr
}

// State returns current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is open.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.StateOpen
}

// Attempts returns consecutive automatic reconnect attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subject returns credential subject driving reconnection.
func (m *Manager) Subject() credential.Subject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subject
}

// Connect opens the channel for subject using a fresh token.
// Params: context bounding token fetch and dial, subject, and token source.
// Returns: token acquisition error only; dial failures surface through
// the error and close fan-outs.
func (m *Manager) Connect(ctx context.Context, subject credential.Subject, tokens credential.TokenSource) error {
	if tokens == nil {
		return errors.New("token source is required")
	}
	m.mu.Lock()
	if m.state == domain.StateOpen || m.state == domain.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopReconnectLocked()
	// a session still closing after Disconnect no longer owns the state
	m.current = nil
	m.subject = subject
	m.tokens = tokens
	m.manual = false
	m.attempts = 0
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	return m.attempt(ctx, gen, tokens)
}

// Disconnect closes the channel and suppresses automatic reconnection.
// Params: none.
// Returns: none.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.gen++
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	m.subject = ""
	m.tokens = nil
	m.attempts = 0
	sess := m.current
	if sess != nil {
		sess.manual = true
		m.setStateLocked(domain.StateClosing)
	} else if m.state != domain.StateIdle {
		m.setStateLocked(domain.StateClosed)
	}
	m.mu.Unlock()

	if sess == nil {
		return
	}
	m.writeMu.Lock()
	_ = sess.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(writeWait),
	)
	m.writeMu.Unlock()
	_ = sess.conn.Close()
}

// Shutdown disconnects and waits for the read loop to exit.
// Params: context bounding the wait.
// Returns: context error when readers do not finish in time.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Disconnect()
	done := make(chan struct{})
	go func() {
		m.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginAttemptLocked starts a new attempt generation.
func (m *Manager) beginAttemptLocked() uint64 {
	m.gen++
	m.setStateLocked(domain.StateConnecting)
	return m.gen
}

// attempt fetches a token and dials once.
// Params: context, attempt generation, and token source.
// Returns: token or target error; nil for dial outcomes.
func (m *Manager) attempt(ctx context.Context, gen uint64, tokens credential.TokenSource) error {
	token, err := tokens.Token(ctx)
	if err != nil {
		m.abortAttempt(gen)
		return fmt.Errorf("fetch token: %w", err)
	}
	target, err := m.target(token)
	if err != nil {
		m.abortAttempt(gen)
		return err
	}
	m.dial(ctx, gen, target)
	return nil
}

// abortAttempt returns a failed attempt to Closed when still current.
func (m *Manager) abortAttempt(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && m.state == domain.StateConnecting {
		m.setStateLocked(domain.StateClosed)
	}
}

// target embeds token into the configured endpoint.
func (m *Manager) target(token string) (string, error) {
	endpoint, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	query := endpoint.Query()
	query.Set(m.opts.TokenParam, token)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// dial opens the channel and installs the session when still current.
func (m *Manager) dial(ctx context.Context, gen uint64, target string) {
	connID := uuid.NewString()
	m.metrics.IncConnectAttempt()
	m.logger.Debug("dialing realtime channel", "conn_id", connID)

	conn, _, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		m.mu.Lock()
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.logger.Warn("realtime dial failed", "conn_id", connID, "error", err.Error())
		m.dispatcher.PublishError(&domain.TransportError{Op: "dial", Err: err})
		m.handleClose(gen, nil, domain.CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.state != domain.StateConnecting {
		m.mu.Unlock()
		m.logger.Debug("abandoning superseded connection", "conn_id", connID)
		_ = conn.Close()
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	sess := &session{id: connID, conn: conn}
	m.current = sess
	m.attempts = 0
	m.setStateLocked(domain.StateOpen)
	m.armHeartbeatLocked(sess)
	m.readers.Add(1)
	m.mu.Unlock()

	m.logger.Info("realtime channel open", "conn_id", connID)
	go m.readLoop(gen, sess)
}

// readLoop publishes inbound frames in transport order until the channel closes.
func (m *Manager) readLoop(gen uint64, sess *session) {
	defer m.readers.Done()
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, sess, err)
			return
		}
		event, err := domain.DecodeFrame(payload)
		if err != nil {
			m.metrics.IncFrameDropped()
			m.logger.Warn("dropping malformed frame", "conn_id", sess.id, "error", err.Error())
			continue
		}
		m.dispatcher.PublishMessage(event)
	}
}

// handleReadError converts a read failure into error/close fan-out.
func (m *Manager) handleReadError(gen uint64, sess *session, err error) {
	m.mu.Lock()
	manual := sess.manual
	m.mu.Unlock()
	_ = sess.conn.Close()

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		m.handleClose(gen, sess, domain.CloseEvent{Code: closeErr.Code, Reason: closeErr.Text})
	case manual:
		m.handleClose(gen, sess, domain.CloseEvent{Code: websocket.CloseNormalClosure, Reason: "client disconnect"})
	default:
		m.dispatcher.PublishError(&domain.TransportError{Op: "read", Err: err})
		m.handleClose(gen, sess, domain.CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
	}
}

// handleClose moves to Closed, fans out, and reconnects when allowed.
// Params: attempt generation, session (nil for dial failures), and close event.
// Returns: none.
func (m *Manager) handleClose(gen uint64, sess *session, event domain.CloseEvent) {
	m.mu.Lock()
	current := (sess != nil && m.current == sess) || (sess == nil && m.gen == gen && m.state == domain.StateConnecting)
	if sess != nil {
		event.Manual = sess.manual
	}
	if current {
		m.current = nil
		m.stopHeartbeatLocked()
		m.setStateLocked(domain.StateClosed)
		event.Manual = event.Manual || m.manual
	}
	retry := current && !m.manual && !m.subject.Empty()
	m.mu.Unlock()

	m.logger.Info("realtime channel closed", "code", event.Code, "reason", event.Reason, "manual", event.Manual)
	m.dispatcher.PublishClose(event)
	if retry {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the next linear-backoff attempt.
// Params: none.
// Returns: none; exhausted attempts stop silently.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manual || m.subject.Empty() || m.reconnect != nil {
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.logger.Info("reconnect attempts exhausted", "attempts", m.attempts)
		return
	}
	m.attempts++
	delay := m.opts.BaseDelay * time.Duration(m.attempts)
	gen := m.gen
	m.reconnect = m.sched.AfterFunc(delay, func() { m.reconnectNow(gen) })
	m.metrics.IncReconnectScheduled()
	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay.String())
}

// reconnectNow runs one scheduled attempt unless superseded.
func (m *Manager) reconnectNow(scheduledGen uint64) {
	m.mu.Lock()
	if m.gen != scheduledGen {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	if m.manual || m.subject.Empty() || m.state == domain.StateOpen || m.state == domain.StateConnecting {
		m.mu.Unlock()
		return
	}
	tokens := m.tokens
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	if err := m.attempt(context.Background(), gen, tokens); err != nil {
		m.logger.Warn("reconnect token fetch failed", "error", err.Error())
		m.dispatcher.PublishError(&domain.TransportError{Op: "token", Err: err})
		m.scheduleReconnect()
	}
}

// armHeartbeatLocked schedules the next ping for sess.
func (m *Manager) armHeartbeatLocked(sess *session) {
	if m.opts.HeartbeatInterval <= 0 {
		return
	}
	m.heartbeat = m.sched.AfterFunc(m.opts.HeartbeatInterval, func() { m.sendPing(sess) })
}

// sendPing writes the liveness token and re-arms while sess stays open.
func (m *Manager) sendPing(sess *session) {
	m.mu.Lock()
	if m.current != sess || m.state != domain.StateOpen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.writeMu.Lock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := sess.conn.WriteMessage(websocket.TextMessage, []byte(m.opts.PingText))
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Warn("heartbeat write failed", "conn_id", sess.id, "error", err.Error())
		m.dispatcher.PublishError(&domain.TransportError{Op: "heartbeat", Err: err})
	}

	m.mu.Lock()
	if m.current == sess && m.state == domain.StateOpen {
		m.armHeartbeatLocked(sess)
	}
	m.mu.Unlock()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) setStateLocked(state domain.ConnectionState) {
	if m.state == state {
		return
	}
	m.logger.Debug("connection state", "from", m.state.String(), "to", state.String())
	m.state = state
	m.metrics.SetConnectionState(state)
}
