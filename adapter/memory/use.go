package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xstream"
)

// Use builds a Client backed by the in-memory transport and returns it.
// Mirrors redisstream.Use: explicit construction, panic on failure.
//
// Example:
//
//	client := memory.Use(memory.Config{},
//	    memory.WithCodecs(xstream.String(), xstream.String(), xstream.String()),
//	    memory.WithLogger(logger),
//	)
func Use[K any, F comparable, V any](cfg Config, opts ...Option[K, F, V]) *xstream.Client[K, F, V] {
	cb := xstream.NewClientBuilder[K, F, V]().
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}
	client, err := cb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return client
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"clock": c.Clock,
	}
}

// Option configures the xstream.Client when calling Use.
type Option[K any, F comparable, V any] func(*xstream.ClientBuilder[K, F, V])

// WithCodecs sets the three codecs for stream keys, field keys and
// field values.
func WithCodecs[K any, F comparable, V any](key xstream.Codec[K], field xstream.Codec[F], value xstream.Codec[V]) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) {
		cb.WithKeyCodec(key).WithFieldCodec(field).WithValueCodec(value)
	}
}

// WithLogger injects a custom xlog logger.
func WithLogger[K any, F comparable, V any](l *xlog.Logger) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock[K any, F comparable, V any](c xclock.Clock) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithClock(c) }
}

// WithMiddleware adds processing middlewares (retry, timeout, etc).
func WithMiddleware[K any, F comparable, V any](mw ...xstream.Middleware[K, F, V]) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithMiddleware(mw...) }
}

// WithAckTimeout sets the acknowledgment timeout (default: 5s).
func WithAckTimeout[K any, F comparable, V any](d time.Duration) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithAckTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver[K any, F comparable, V any](obs ...xstream.Observer) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithObserver(obs...) }
}

// WithObserverPool configures the async observer pool.
func WithObserverPool[K any, F comparable, V any](workers, bufferSize int) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithObserverPool(workers, bufferSize) }
}
