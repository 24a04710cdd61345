package redisstream

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xstream"
)

// Option configures the xstream.Client construction when calling Use.
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

// WithMiddleware adds processing middlewares for subscriptions.
func WithMiddleware[K any, F comparable, V any](mw ...xstream.Middleware[K, F, V]) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver[K any, F comparable, V any](obs ...xstream.Observer) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithObserver(obs...) }
}

// WithAckTimeout sets the acknowledgment timeout for subscriptions.
func WithAckTimeout[K any, F comparable, V any](d time.Duration) Option[K, F, V] {
	return func(cb *xstream.ClientBuilder[K, F, V]) { cb.WithAckTimeout(d) }
}
