package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"carealert/internal/clock"
	"carealert/internal/domain"
	"carealert/internal/logging"
	"carealert/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// Fetcher lists current alerts, newest first.
type Fetcher interface {
	ListAlerts(ctx context.Context) ([]domain.Alert, error)
}

// Observer feeds one alert list into deduplication.
type Observer interface {
	Observe(ctx context.Context, alerts []domain.Alert) (bool, error)
}

// Poller periodically checks the REST backend when no real push channel exists.
// At most one poll runs at a time; ticks that find one in flight are skipped.
type Poller struct {
	fetcher  Fetcher
	observer Observer
	sched    clock.Scheduler
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	inflight *semaphore.Weighted
	skipped  atomic.Int64
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	timer   clock.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates stopped poller.
// Params: fetcher, observer, scheduler, interval, logger, and optional metrics.
// Returns: poller; Start arms the interval timer.
func New(fetcher Fetcher, observer Observer, sched clock.Scheduler, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if sched == nil {
		sched = clock.RealClock{}
	}
	return &Poller{
		fetcher:  fetcher,
		observer: observer,
		sched:    sched,
		interval: interval,
		logger:   logging.Component(logger, "poller"),
		metrics:  m,
		inflight: semaphore.NewWeighted(1),
	}
}

// Start arms periodic polling; repeated calls are no-ops.
// Params: parent context for poll requests.
// Returns: none.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.armLocked()
	p.logger.Info("fallback polling started", "interval", p.interval.String())
}

// Stop cancels the timer and any in-flight poll, then waits for it to return.
// Params: none.
// Returns: none.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("fallback polling stopped")
}

// Running reports whether the interval timer is armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Skipped returns ticks skipped because a poll was in flight.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// PollOnce fetches alerts and feeds the observer unless a poll is in flight.
// Params: context for the request.
// Returns: whether a poll ran, and fetch/observe error.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	if !p.inflight.TryAcquire(1) {
		p.markSkipped()
		return false, nil
	}
	defer p.inflight.Release(1)
	return true, p.poll(ctx)
}

func (p *Poller) armLocked() {
	p.timer = p.sched.AfterFunc(p.interval, p.tick)
}

// tick re-arms first so a slow poll never delays the schedule.
func (p *Poller) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.armLocked()
	ctx := p.ctx
	if !p.inflight.TryAcquire(1) {
		p.mu.Unlock()
		p.markSkipped()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.inflight.Release(1)
		if err := p.poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("fallback poll failed", "error", err.Error())
		}
	}()
}

func (p *Poller) poll(ctx context.Context) error {
	p.metrics.IncPollRun()
	alerts, err := p.fetcher.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	if _, err := p.observer.Observe(ctx, alerts); err != nil {
		return fmt.Errorf("observe alerts: %w", err)
	}
	return nil
}

func (p *Poller) markSkipped() {
	p.skipped.Add(1)
	p.metrics.IncPollSkipped()
	p.logger.Debug("poll skipped, previous still in flight")
}
