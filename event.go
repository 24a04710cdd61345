package xstream

import "time"

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	EventOpStart      EventType = "op_start"
	EventOpDone       EventType = "op_done"
	EventConsumeStart EventType = "consume_start"
	EventConsumeDone  EventType = "consume_done"
	EventAck          EventType = "ack"
	EventNack         EventType = "nack"
	EventError        EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type     EventType
	Op       string
	Stream   string
	Group    string
	Consumer string
	RecordID ID
	Duration time.Duration
	Err      error

	// Internal: attached for async dispatch
	observers []Observer
}
