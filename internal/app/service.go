package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"carealert/internal/clock"
	"carealert/internal/config"
	"carealert/internal/control"
	"carealert/internal/credential"
	"carealert/internal/kv"
	"carealert/internal/logging"
	"carealert/internal/metrics"
	"carealert/internal/notify"
	"carealert/internal/realtime"
	"carealert/internal/restapi"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: validated config and shared runtime components.
// Returns: runnable caregiver alert client.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     kv.Store
	metrics   *metrics.Metrics
	tokens    credential.TokenSource
	client    *Client
	httpSrv   *http.Server
	readyFlag atomic.Bool
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Timekeeper) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	return newService(cfg, clk, nil)
}

// newService wires components for one config snapshot.
// Params: config, clock, and optional websocket dialer.
// Returns: service or setup error with partial resources released.
func newService(cfg config.Config, clk clock.Timekeeper, dialer realtime.Dialer) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	service := &Service{cfg: cfg, logger: logger, closeLog: closeLog}

	store, err := kv.Open(cfg.Storage, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.store = store

	m, err := metrics.New()
	if err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	service.metrics = m

	tokens, err := credential.FromConfig(cfg.Auth)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.tokens = tokens

	backend, err := restapi.New(cfg.REST, tokens, nil, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	notifier, err := notify.NewDispatcher(cfg.Notify, cfg.Service.Name, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.client = NewClient(cfg, ClientDeps{
		Store:    store,
		Notifier: notifier,
		Backend:  backend,
		Dialer:   dialer,
		Clock:    clk,
		Logger:   logger,
		Metrics:  m,
	})
	service.buildHTTPServer()
	return service, nil
}

// Client exposes the composed alert client.
func (s *Service) Client() *Client {
	return s.client
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.client.Load(runCtx); err != nil {
		s.logger.Warn("durable state not restored", "error", err.Error())
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	if s.httpSrv != nil {
		group.Go(func() error {
			s.logger.Info("control server starting", "listen", s.cfg.Control.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control server failed: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return s.client.RunSweeper(groupCtx)
	})

	subject := credential.Subject(s.cfg.Service.Subject)
	if err := s.client.Connect(groupCtx, subject, s.tokens); err != nil {
		cancel()
		_ = s.shutdown(group.Wait)
		return fmt.Errorf("connect: %w", err)
	}
	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"subject", string(subject),
		"fallback_polling", s.client.FallbackActive(),
		"storage", s.cfg.Storage.Backend,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
	case <-sigChan:
	case <-groupCtx.Done():
	}
	cancel()
	return s.shutdown(group.Wait)
}

// Logout erases the durable session state and releases resources.
// Params: context.
// Returns: cleanup error.
func (s *Service) Logout(ctx context.Context) error {
	err := s.client.Logout(ctx)
	if shutdownErr := s.shutdown(nil); err == nil {
		err = shutdownErr
	}
	return err
}

// ready reports readiness for the control endpoint.
func (s *Service) ready() bool {
	return s.readyFlag.Load() && (s.client.IsConnected() || s.client.FallbackActive())
}

// shutdown closes runtime resources in dependency order.
// Params: wait joins background loops before the store closes.
// Returns: first close error.
func (s *Service) shutdown(wait func() error) error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("control shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("control shutdown: %w", err))
		}
	}
	if err := s.client.Shutdown(ctx); err != nil {
		s.logger.Error("client shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("client shutdown: %w", err))
	}
	if wait != nil {
		if err := wait(); err != nil {
			s.logger.Error("background loop failed", "error", err.Error())
			markErr(err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the control API when enabled.
func (s *Service) buildHTTPServer() {
	if !s.cfg.Control.Enabled {
		return
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Control.Listen,
		Handler:           control.NewHandler(s.client, s.ready, s.metrics.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
