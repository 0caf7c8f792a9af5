package realtime

import (
	"fmt"
	"log/slog"
	"sync"

	"carealert/internal/domain"
	"carealert/internal/logging"
	"carealert/internal/metrics"
)

const (
	poolMessage = "message"
	poolError   = "error"
	poolClose   = "close"
)

// MessageHandler consumes one decoded inbound event.
type MessageHandler func(event domain.InboundEvent)

// ErrorHandler consumes one transport error.
type ErrorHandler func(err error)

// CloseHandler consumes one channel close notification.
type CloseHandler func(event domain.CloseEvent)

// Disposer removes exactly one subscription; repeated calls are no-ops.
type Disposer func()

// Dispatcher fans events out to independently registered handlers.
// Params: three pools (message, error, close) sharing logger and metrics.
// Returns: subscription and publish helpers for the connection manager.
type Dispatcher struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	messages pool[domain.InboundEvent]
	errors   pool[error]
	closes   pool[domain.CloseEvent]
}

// NewDispatcher creates empty dispatcher.
// Params: logger and optional metrics.
// Returns: dispatcher with three empty pools.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:   logging.Component(logger, "dispatcher"),
		metrics:  m,
		messages: pool[domain.InboundEvent]{name: poolMessage},
		errors:   pool[error]{name: poolError},
		closes:   pool[domain.CloseEvent]{name: poolClose},
	}
}

// SubscribeMessage registers message handler.
// Params: handler invoked for each published event.
// Returns: disposer removing this registration.
func (d *Dispatcher) SubscribeMessage(handler MessageHandler) Disposer {
	return d.messages.add(handler)
}

// SubscribeError registers error handler.
// Params: handler invoked for each transport error.
// Returns: disposer removing this registration.
func (d *Dispatcher) SubscribeError(handler ErrorHandler) Disposer {
	return d.errors.add(handler)
}

// SubscribeClose registers close handler.
// Params: handler invoked for each close event.
// Returns: disposer removing this registration.
func (d *Dispatcher) SubscribeClose(handler CloseHandler) Disposer {
	return d.closes.add(handler)
}

// PublishMessage delivers event to message handlers in registration order.
func (d *Dispatcher) PublishMessage(event domain.InboundEvent) {
	publish(d, &d.messages, event)
}

// PublishError delivers err to error handlers in registration order.
func (d *Dispatcher) PublishError(err error) {
	publish(d, &d.errors, err)
}

// PublishClose delivers event to close handlers in registration order.
func (d *Dispatcher) PublishClose(event domain.CloseEvent) {
	publish(d, &d.closes, event)
}

// Counts reports registered handlers per pool.
// Params: none.
// Returns: message, error, and close handler counts.
func (d *Dispatcher) Counts() (int, int, int) {
	return d.messages.len(), d.errors.len(), d.closes.len()
}

// publish runs a snapshot of the pool so handlers may subscribe or dispose
// from inside a callback without deadlocking.
func publish[T any](d *Dispatcher, p *pool[T], value T) {
	d.metrics.IncDispatched(p.name)
	for _, sub := range p.snapshot() {
		d.invoke(p.name, sub.id, func() { sub.fn(value) })
	}
}

// invoke isolates one handler call from panics.
// Params: pool name, subscription id, and bound call.
// Returns: none; panics are logged and counted.
func (d *Dispatcher) invoke(poolName string, id uint64, call func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.metrics.IncHandlerPanic(poolName)
			d.logger.Error("handler panicked", "pool", poolName, "subscription", id, "error", fmt.Sprint(recovered))
		}
	}()
	call()
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// pool is one ordered handler registry.
type pool[T any] struct {
	name string
	mu   sync.Mutex
	next uint64
	subs []subscription[T]
}

func (p *pool[T]) add(fn func(T)) Disposer {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	p.next++
	id := p.next
	p.subs = append(p.subs, subscription[T]{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

func (p *pool[T]) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub.id != id {
			continue
		}
		next := make([]subscription[T], 0, len(p.subs)-1)
		next = append(next, p.subs[:i]...)
		p.subs = append(next, p.subs[i+1:]...)
		return
	}
}

func (p *pool[T]) snapshot() []subscription[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs
}

func (p *pool[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
