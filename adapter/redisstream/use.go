package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xstream"
)

const TransportName = "redis-streams"

func init() {
	if err := xstream.RegisterTransport(TransportName, func(cfg map[string]any) (xstream.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xstream: failed to register transport %q: %w", TransportName, err))
	}
}

// Use builds a Client backed by Redis Streams and returns it, mirroring
// xlog/zerolog.Use for clear, explicit initialization. Codecs are
// supplied via WithCodecs.
//
// It fails fast by panicking if construction fails (production-friendly
// when the transport must be available at startup).
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
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return client
}
