// Package events fans protocol events out from the engines and the chain
// log indexer to every downstream consumer.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// DefaultStream is the Redis stream every event is appended to.
const DefaultStream = "insightra:events"

// Handler consumes one event. Errors are logged and never stop the dispatcher.
type Handler func(ctx context.Context, e domain.Event) error

type route struct {
	name string
	fn   Handler
}

// Dispatcher is a buffered domain.EventSink. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type Dispatcher struct {
	ch      chan domain.Event
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	routes []route
}

// NewDispatcher creates a dispatcher buffering up to buffer events.
func NewDispatcher(buffer int, logger *slog.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		ch:     make(chan domain.Event, buffer),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Register adds a named handler. Handlers run in registration order.
func (d *Dispatcher) Register(name string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{name: name, fn: fn})
}

// Emit implements domain.EventSink.
func (d *Dispatcher) Emit(e domain.Event) {
	select {
	case d.ch <- e:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event",
			slog.String("kind", string(e.Kind)),
			slog.String("id", e.ID),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped is the number of events lost to a full buffer.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Pending is the number of buffered events not yet dispatched.
func (d *Dispatcher) Pending() int { return len(d.ch) }

// Run dispatches events until ctx is cancelled, then drains whatever is
// still buffered so nothing emitted before shutdown is lost.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started", slog.Int("handlers", len(d.snapshot())))
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case e := <-d.ch:
			d.dispatch(ctx, e)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case e := <-d.ch:
			d.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e domain.Event) {
	for _, r := range d.snapshot() {
		if err := r.fn(ctx, e); err != nil {
			d.logger.ErrorContext(ctx, "event handler failed",
				slog.String("handler", r.name),
				slog.String("kind", string(e.Kind)),
				slog.String("id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (d *Dispatcher) snapshot() []route {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]route(nil), d.routes...)
}

// Publish returns a handler that publishes each event as JSON on its
// pub/sub channel and appends it to stream.
func Publish(bus domain.SignalBus, stream string) Handler {
	return func(ctx context.Context, e domain.Event) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("events: marshal %s: %w", e.Kind, err)
		}
		if err := bus.Publish(ctx, e.Channel(), payload); err != nil {
			return err
		}
		if stream == "" {
			return nil
		}
		return bus.StreamAppend(ctx, stream, payload)
	}
}

// Persist returns a handler that appends each event to the event log.
func Persist(store domain.EventStore) Handler {
	return func(ctx context.Context, e domain.Event) error {
		return store.Insert(ctx, e)
	}
}

// Invalidate returns a handler that drops cached snapshots touched by an
// event. Either cache may be nil.
func Invalidate(markets domain.MarketCache, questions domain.QuestionCache) Handler {
	return func(ctx context.Context, e domain.Event) error {
		var errs []error
		if markets != nil && e.Market != (common.Address{}) {
			if err := markets.Invalidate(ctx, e.Market); err != nil {
				errs = append(errs, err)
			}
		}
		if questions != nil && e.QuestionID != (common.Hash{}) {
			if err := questions.Invalidate(ctx, e.QuestionID); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
