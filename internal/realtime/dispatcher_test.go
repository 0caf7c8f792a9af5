package realtime

import (
	"errors"
	"testing"

	"carealert/internal/domain"
	"carealert/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDispatcherIsolatesPanickingHandler(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	d := NewDispatcher(nil, m)
	var calls []int
	d.SubscribeMessage(func(domain.InboundEvent) { calls = append(calls, 1) })
	d.SubscribeMessage(func(domain.InboundEvent) { panic("consumer bug") })
	d.SubscribeMessage(func(domain.InboundEvent) { calls = append(calls, 3) })

	d.PublishMessage(domain.InboundEvent{Kind: domain.EventPong})
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 3 {
		t.Fatalf("expected handlers 1 and 3 to run in order, got %v", calls)
	}
	if got := testutil.ToFloat64(m.HandlerPanics.WithLabelValues("message")); got != 1 {
		t.Fatalf("expected one counted panic, got %v", got)
	}

	d.PublishMessage(domain.InboundEvent{Kind: domain.EventPong})
	if len(calls) != 4 {
		t.Fatalf("panic must not affect later publishes, got %v", calls)
	}
}

func TestDisposerRemovesOnlyOwnEntryAndIsIdempotent(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, nil)
	var got []string
	d.SubscribeError(func(error) { got = append(got, "a") })
	disposeB := d.SubscribeError(func(error) { got = append(got, "b") })
	d.SubscribeError(func(error) { got = append(got, "c") })

	disposeB()
	disposeB()
	d.PublishError(errors.New("boom"))

	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected delivery after dispose: %v", got)
	}
	if _, errCount, _ := d.Counts(); errCount != 2 {
		t.Fatalf("expected two error handlers left, got %d", errCount)
	}
}

func TestDispatcherAllowsDisposeInsidePublish(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, nil)
	calls := 0
	var dispose Disposer
	dispose = d.SubscribeClose(func(domain.CloseEvent) {
		calls++
		dispose()
	})
	second := 0
	d.SubscribeClose(func(domain.CloseEvent) { second++ })

	d.PublishClose(domain.CloseEvent{Code: 1000})
	d.PublishClose(domain.CloseEvent{Code: 1000})

	if calls != 1 {
		t.Fatalf("self-disposing handler must run once, ran %d", calls)
	}
	if second != 2 {
		t.Fatalf("remaining handler must see both publishes, saw %d", second)
	}
}

func TestNilHandlerIsIgnored(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, nil)
	dispose := d.SubscribeMessage(nil)
	dispose()
	if msg, _, _ := d.Counts(); msg != 0 {
		t.Fatalf("nil handler must not register")
	}
}
