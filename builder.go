package xstream

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ClientBuilder constructs Client instances (Builder pattern).
type ClientBuilder[K any, F comparable, V any] struct {
	transportName string
	transportCfg  map[string]any
	transportInst Transport

	keyCodec   Codec[K]
	fieldCodec Codec[F]
	valueCodec Codec[V]

	middlewares []Middleware[K, F, V]
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	ackTimeout  time.Duration

	poolWorkers int
	poolBuffer  int
}

// NewClientBuilder returns a new builder with sensible defaults.
func NewClientBuilder[K any, F comparable, V any]() *ClientBuilder[K, F, V] {
	return &ClientBuilder[K, F, V]{
		ackTimeout:  5 * time.Second,
		poolWorkers: 4,
		poolBuffer:  1000,
	}
}

func (cb *ClientBuilder[K, F, V]) WithTransport(name string, cfg map[string]any) *ClientBuilder[K, F, V] {
	cb.transportName = name
	cb.transportCfg = cfg
	return cb
}

// WithTransportInstance accepts a ready Transport instance (e.g., from adapter Use()).
func (cb *ClientBuilder[K, F, V]) WithTransportInstance(t Transport) *ClientBuilder[K, F, V] {
	cb.transportInst = t
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithKeyCodec(c Codec[K]) *ClientBuilder[K, F, V] {
	cb.keyCodec = c
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithFieldCodec(c Codec[F]) *ClientBuilder[K, F, V] {
	cb.fieldCodec = c
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithValueCodec(c Codec[V]) *ClientBuilder[K, F, V] {
	cb.valueCodec = c
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithMiddleware(mw ...Middleware[K, F, V]) *ClientBuilder[K, F, V] {
	if len(mw) == 0 {
		return cb
	}
	cb.middlewares = append(cb.middlewares, mw...)
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithObserver(obs ...Observer) *ClientBuilder[K, F, V] {
	if len(obs) == 0 {
		return cb
	}
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithLogger(l *xlog.Logger) *ClientBuilder[K, F, V] {
	cb.logger = l
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithClock(c xclock.Clock) *ClientBuilder[K, F, V] {
	cb.clock = c
	return cb
}

func (cb *ClientBuilder[K, F, V]) WithAckTimeout(d time.Duration) *ClientBuilder[K, F, V] {
	if d > 0 {
		cb.ackTimeout = d
	}
	return cb
}

// WithObserverPool sizes the async observer dispatch pool.
func (cb *ClientBuilder[K, F, V]) WithObserverPool(workers, bufferSize int) *ClientBuilder[K, F, V] {
	if workers > 0 {
		cb.poolWorkers = workers
	}
	if bufferSize > 0 {
		cb.poolBuffer = bufferSize
	}
	return cb
}

func (cb *ClientBuilder[K, F, V]) Build() (*Client[K, F, V], error) {
	var tr Transport
	var err error

	switch {
	case cb.transportInst != nil:
		tr = cb.transportInst
	case cb.transportName != "":
		tr, err = NewTransport(cb.transportName, cb.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	switch {
	case cb.keyCodec == nil:
		return nil, ErrNoKeyCodec
	case cb.fieldCodec == nil:
		return nil, ErrNoFieldCodec
	case cb.valueCodec == nil:
		return nil, ErrNoValueCodec
	}

	var clk xclock.Clock
	if cb.clock != nil {
		clk = cb.clock
	} else {
		clk = xclock.Default()
	}
	var lg *xlog.Logger
	if cb.logger != nil {
		lg = cb.logger
	} else {
		// Default to xlog new logger; Adapter pattern to platform logging.
		lg = xlog.Default()
	}

	baseCtx := InjectAll(context.Background(), lg, clk)
	c := &Client[K, F, V]{
		transport:    tr,
		keyCodec:     cb.keyCodec,
		fieldCodec:   cb.fieldCodec,
		valueCodec:   cb.valueCodec,
		clock:        clk,
		logger:       lg,
		middlewares:  cb.middlewares,
		ackTimeout:   cb.ackTimeout,
		observerPool: NewObserverPool(baseCtx, cb.poolWorkers, cb.poolBuffer),
		baseCtx:      baseCtx,
		metrics:      &clientMetrics{},
	}

	// Attach logging observer first for dependable telemetry unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		c.AddObserver(LoggingObserver{Logger: lg})
	}

	// Attach any configured observers.
	for _, o := range cb.observers {
		c.AddObserver(o)
	}

	return c, nil
}

// New constructs a Client via Builder and returns a close func for convenience.
func New[K any, F comparable, V any](init func(cb *ClientBuilder[K, F, V])) (*Client[K, F, V], func() error, error) {
	cb := NewClientBuilder[K, F, V]()
	if init != nil {
		init(cb)
	}
	c, err := cb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return c.Close(context.Background()) }
	return c, closeFn, nil
}
