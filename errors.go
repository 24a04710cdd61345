package xstream

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned by every operation after Close.
	ErrClientClosed = errors.New("xstream: client closed")

	// ErrNoTransportConfigured is returned by Build when neither a
	// transport name nor an instance was supplied.
	ErrNoTransportConfigured = errors.New("xstream: no transport configured")

	// ErrNoKeyCodec, ErrNoFieldCodec and ErrNoValueCodec are returned by
	// Build when a codec is missing. All three codecs are required.
	ErrNoKeyCodec   = errors.New("xstream: no key codec configured")
	ErrNoFieldCodec = errors.New("xstream: no field codec configured")
	ErrNoValueCodec = errors.New("xstream: no value codec configured")

	// ErrObserverPoolShutdownTimeout is returned when the observer pool
	// does not drain within the close timeout.
	ErrObserverPoolShutdownTimeout = errors.New("xstream: observer pool shutdown timeout")

	// ErrHandlerPanic marks a subscription handler panic converted into an error.
	ErrHandlerPanic = errors.New("xstream: handler panic")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// ArgumentError reports invalid caller input. It is raised before any
// transport interaction, so a failed argument check never produces a
// partial effect.
type ArgumentError struct {
	Op     string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("xstream: %s: %s", e.Op, e.Reason)
}

// IsArgument reports whether err is an ArgumentError.
func IsArgument(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

func argErr(op, reason string) *ArgumentError {
	return &ArgumentError{Op: op, Reason: reason}
}

func argErrf(op, format string, args ...any) *ArgumentError {
	return &ArgumentError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// DecodeError reports a codec failure while translating raw bytes fetched
// from the transport. It abandons the whole result set it occurred in:
// the records already decoded are discarded, not delivered alongside it.
type DecodeError struct {
	Codec string
	ID    ID
	Err   error
}

func (e *DecodeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("xstream: decode (%s) record %s: %v", e.Codec, e.ID, e.Err)
	}
	return fmt.Sprintf("xstream: decode (%s): %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecode reports whether err is a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
