package xstream

import "github.com/trickstertwo/xlog"

// Observer receives client lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("op", e.Op),
		xlog.Str("stream", e.Stream),
		xlog.Str("group", e.Group),
		xlog.Str("record_id", string(e.RecordID)),
	)
	switch e.Type {
	case EventError, EventNack:
		ev.Warn().Err(e.Err).Msg("xstream event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xstream event")
	}
}
