package xstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Client is the typed Facade over a stream Transport. It owns no state
// beyond its immutable collaborators, so a single instance serves any
// number of goroutines; the only suspension points are the transport
// calls behind Task and Seq.
type Client[K any, F comparable, V any] struct {
	transport  Transport
	keyCodec   Codec[K]
	fieldCodec Codec[F]
	valueCodec Codec[V]

	clock       xclock.Clock
	logger      *xlog.Logger
	middlewares []Middleware[K, F, V]
	ackTimeout  time.Duration

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	baseCtx      context.Context

	metrics   *clientMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// clientMetrics uses lock-free atomics for telemetry.
type clientMetrics struct {
	ops          atomic.Uint64
	recordsOut   atomic.Uint64
	recordsIn    atomic.Uint64
	ackCount     atomic.Uint64
	errorCount   atomic.Uint64
	processingNs atomic.Int64
}

// Transport returns the configured transport (Strategy).
func (c *Client[K, F, V]) Transport() Transport { return c.transport }

// KeyCodec returns the configured stream-key codec.
func (c *Client[K, F, V]) KeyCodec() Codec[K] { return c.keyCodec }

// FieldCodec returns the configured field-key codec.
func (c *Client[K, F, V]) FieldCodec() Codec[F] { return c.fieldCodec }

// ValueCodec returns the configured field-value codec.
func (c *Client[K, F, V]) ValueCodec() Codec[V] { return c.valueCodec }

// GetMetrics returns current client metrics.
func (c *Client[K, F, V]) GetMetrics() Metrics {
	return Metrics{
		Ops:                 c.metrics.ops.Load(),
		RecordsOut:          c.metrics.recordsOut.Load(),
		RecordsIn:           c.metrics.recordsIn.Load(),
		Acked:               c.metrics.ackCount.Load(),
		Errors:              c.metrics.errorCount.Load(),
		EventsDropped:       c.observerPool.Stats().Dropped,
		AvgProcessingTimeMs: float64(c.metrics.processingNs.Load()) / 1e6,
	}
}

// Health checks client health for Kubernetes probes.
// Implements HealthChecker interface.
func (c *Client[K, F, V]) Health(ctx context.Context) HealthStatus {
	if c.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "client is closed",
		}
	}

	metrics := c.GetMetrics()
	status := "healthy"

	// Degraded if error rate > 5%
	if metrics.Errors > 0 && metrics.Ops > 0 {
		errorRate := float64(metrics.Errors) / float64(metrics.Ops)
		if errorRate > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}
}

// Close gracefully shuts down the client: pending Tasks and Seqs awaited
// after Close fail with ErrClientClosed, the observer pool drains, and
// the transport is released.
func (c *Client[K, F, V]) Close(ctx context.Context) error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if c.observerPool != nil {
			if err := c.observerPool.Close(5 * time.Second); err != nil {
				c.logger.Warn().Err(err).Msg("xstream: observer pool shutdown timeout")
				closeErr = err
			}
		}

		if err := c.transport.Close(ctx); err != nil {
			c.logger.Error().Err(err).Msg("xstream: transport close failed")
			closeErr = err
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (c *Client[K, F, V]) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, obs)
	c.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (c *Client[K, F, V]) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	for i, o := range c.observers {
		if o == obs {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches events asynchronously (non-blocking).
func (c *Client[K, F, V]) notifyAsync(e Event) {
	if c.observerPool == nil || c.closed.Load() {
		return
	}

	c.observersMu.RLock()
	observerCount := len(c.observers)
	if observerCount == 0 {
		c.observersMu.RUnlock()
		return
	}

	if observerCount == 1 {
		obs := c.observers[0]
		c.observersMu.RUnlock()
		c.observerPool.Notify(e, []Observer{obs})
		return
	}

	observers := make([]Observer, observerCount)
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	c.observerPool.Notify(e, observers)
}

// recordProcessingTime records processing time using exponential moving average.
func (c *Client[K, F, V]) recordProcessingTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := c.metrics.processingNs.Load()
	if current == 0 {
		c.metrics.processingNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	c.metrics.processingNs.Store(newAvg)
}

// keyString renders a typed stream key for telemetry and logging.
func keyString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

// runOp wraps a single-valued transport call with lifecycle events and
// metrics. The wrapping happens inside the Task, so an unawaited Task
// costs nothing and every await is measured separately.
func runOp[T any, K any, F comparable, V any](c *Client[K, F, V], op, stream string, run func(ctx context.Context) (T, error)) Task[T] {
	return NewTask(func(ctx context.Context) (T, error) {
		if c.closed.Load() {
			var zero T
			return zero, ErrClientClosed
		}

		start := c.clock.Now()
		c.notifyAsync(Event{Type: EventOpStart, Op: op, Stream: stream})

		v, err := run(ctx)

		duration := c.clock.Since(start)
		c.recordProcessingTime(duration.Nanoseconds())
		c.metrics.ops.Add(1)
		if err != nil {
			c.metrics.errorCount.Add(1)
		}

		c.notifyAsync(Event{Type: EventOpDone, Op: op, Stream: stream, Duration: duration, Err: err})
		return v, err
	})
}

// runSeq is runOp's multi-valued counterpart: one op event pair per
// consumption, however many elements flow in between.
func runSeq[T any, K any, F comparable, V any](c *Client[K, F, V], op, stream string, run func(ctx context.Context, yield func(T) bool) error) Seq[T] {
	return NewSeq(func(ctx context.Context, yield func(T) bool) error {
		if c.closed.Load() {
			return ErrClientClosed
		}

		start := c.clock.Now()
		c.notifyAsync(Event{Type: EventOpStart, Op: op, Stream: stream})

		err := run(ctx, yield)

		duration := c.clock.Since(start)
		c.recordProcessingTime(duration.Nanoseconds())
		c.metrics.ops.Add(1)
		if err != nil {
			c.metrics.errorCount.Add(1)
		}

		c.notifyAsync(Event{Type: EventOpDone, Op: op, Stream: stream, Duration: duration, Err: err})
		return err
	})
}
