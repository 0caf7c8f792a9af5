package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carealert/internal/clock"
	"carealert/internal/domain"
)

// blockingFetcher parks every call until released.
type blockingFetcher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (f *blockingFetcher) ListAlerts(ctx context.Context) ([]domain.Alert, error) {
	f.calls.Add(1)
	f.entered <- struct{}{}
	select {
	case <-f.release:
		return []domain.Alert{{ID: 3}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type staticFetcher struct {
	alerts []domain.Alert
	err    error
}

func (f staticFetcher) ListAlerts(context.Context) ([]domain.Alert, error) {
	return f.alerts, f.err
}

type recordingObserver struct {
	mu    sync.Mutex
	lists [][]domain.Alert
}

func (o *recordingObserver) Observe(_ context.Context, alerts []domain.Alert) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists = append(o.lists, alerts)
	return false, nil
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lists)
}

func TestTickDuringInFlightPollIsSkipped(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	fetcher := newBlockingFetcher()
	observer := &recordingObserver{}
	p := New(fetcher, observer, fake, 10*time.Second, nil, nil)
	p.Start(context.Background())
	defer p.Stop()

	fake.Advance(10 * time.Second)
	select {
	case <-fetcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first poll did not start")
	}

	fake.Advance(10 * time.Second)
	fake.Advance(10 * time.Second)
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("ticks during in-flight poll must not start another, calls=%d", got)
	}
	if got := p.Skipped(); got != 2 {
		t.Fatalf("expected two skipped ticks, got %d", got)
	}

	close(fetcher.release)
	deadline := time.Now().Add(2 * time.Second)
	for observer.count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if observer.count() != 1 {
		t.Fatalf("expected one observed list, got %d", observer.count())
	}
}

func TestSkippedTicksAreNotQueued(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	fetcher := newBlockingFetcher()
	p := New(fetcher, &recordingObserver{}, fake, 10*time.Second, nil, nil)
	p.Start(context.Background())

	fake.Advance(10 * time.Second)
	<-fetcher.entered
	fake.Advance(30 * time.Second)
	close(fetcher.release)
	p.Stop()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("skipped ticks must not run after the poll finishes, calls=%d", got)
	}
}

func TestStopCancelsTimerAndInFlightPoll(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	fetcher := newBlockingFetcher()
	p := New(fetcher, &recordingObserver{}, fake, 10*time.Second, nil, nil)
	p.Start(context.Background())

	fake.Advance(10 * time.Second)
	<-fetcher.entered
	p.Stop()

	if p.Running() {
		t.Fatalf("expected stopped poller")
	}
	if pending := fake.PendingDelays(); len(pending) != 0 {
		t.Fatalf("stop must cancel interval timer, got %v", pending)
	}
	fake.Advance(time.Minute)
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("no poll may run after stop, calls=%d", got)
	}
}

func TestPollOnceFeedsObserver(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	p := New(staticFetcher{alerts: []domain.Alert{{ID: 8}, {ID: 7}}}, observer, clock.NewFake(time.Unix(0, 0)), 10*time.Second, nil, nil)

	ran, err := p.PollOnce(context.Background())
	if err != nil || !ran {
		t.Fatalf("expected poll to run, ran=%v err=%v", ran, err)
	}
	if observer.count() != 1 || observer.lists[0][0].ID != 8 {
		t.Fatalf("observer must receive list in backend order: %v", observer.lists)
	}
}

func TestPollOnceReportsFetchError(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("backend down")
	observer := &recordingObserver{}
	p := New(staticFetcher{err: fetchErr}, observer, clock.NewFake(time.Unix(0, 0)), 10*time.Second, nil, nil)

	if _, err := p.PollOnce(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if observer.count() != 0 {
		t.Fatalf("failed fetch must not reach observer")
	}
}
