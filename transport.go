package xstream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AddArgs carries one encoded record for submission.
type AddArgs struct {
	Key    []byte
	ID     ID // IDAuto for a transport-assigned id
	Fields []RawField
	MaxLen int64 // trim to this length as part of the add; 0 disables
	Approx bool
}

// RangeArgs selects encoded records by id interval.
type RangeArgs struct {
	Key            []byte
	Start          ID
	End            ID
	StartExclusive bool
	EndExclusive   bool
	Count          int64 // 0 means no cap
	Rev            bool  // newest-first traversal with swapped bounds
}

// RawOffset pairs an encoded stream key with a read position.
type RawOffset struct {
	Key  []byte
	From ID
}

// ReadArgs describes a plain (group-less) multi-stream read.
type ReadArgs struct {
	Streams []RawOffset
	Count   int64
	Block   time.Duration // <= 0 returns immediately
}

// ReadGroupArgs describes a consumer-group read.
type ReadGroupArgs struct {
	Group    string
	Consumer string
	Streams  []RawOffset
	Count    int64
	Block    time.Duration // <= 0 returns immediately
	NoAck    bool
}

// PendingArgs filters a group's pending list.
type PendingArgs struct {
	Key            []byte
	Group          string
	Start          ID
	End            ID
	StartExclusive bool
	EndExclusive   bool
	Count          int64
	MinIdle        time.Duration // 0 means no idle filter
	Consumer       string        // "" means all consumers
}

// ClaimArgs transfers ownership of pending records to a consumer.
type ClaimArgs struct {
	Key      []byte
	Group    string
	Consumer string
	MinIdle  time.Duration
	IDs      []ID
}

// Transport is the Strategy interface for stream backends. It speaks
// encoded bytes exclusively; codecs never cross this boundary. Empty
// results are normal returns, and transport errors pass to callers
// verbatim.
type Transport interface {
	// Add appends a record and returns its assigned id.
	Add(ctx context.Context, args AddArgs) (ID, error)
	// Delete removes records by id and returns how many existed.
	Delete(ctx context.Context, key []byte, ids []ID) (int64, error)
	// Len returns the number of records in the stream; 0 for a missing stream.
	Len(ctx context.Context, key []byte) (int64, error)
	// Trim drops the oldest records beyond maxLen and returns how many were evicted.
	Trim(ctx context.Context, key []byte, maxLen int64, approx bool) (int64, error)
	// Range returns records within the id interval in stream order
	// (reversed when args.Rev), preserving field order within each record.
	Range(ctx context.Context, args RangeArgs) ([]RawRecord, error)
	// Read returns new records past the given offsets, grouped per stream.
	Read(ctx context.Context, args ReadArgs) ([]RawStream, error)
	// ReadGroup reads on behalf of a consumer group, tracking delivery
	// in the group's pending list unless NoAck is set.
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]RawStream, error)
	// Ack removes records from the group's pending list and returns how
	// many were actually pending.
	Ack(ctx context.Context, key []byte, group string, ids []ID) (int64, error)
	// EnsureGroup creates the consumer group (and the stream if missing),
	// reporting true when the group was created by this call.
	EnsureGroup(ctx context.Context, key []byte, group string, from ID) (bool, error)
	// DestroyGroup removes the consumer group, reporting true when it existed.
	DestroyGroup(ctx context.Context, key []byte, group string) (bool, error)
	// Pending summarizes entries of the group's pending list.
	Pending(ctx context.Context, args PendingArgs) ([]PendingRecord, error)
	// Claim reassigns sufficiently idle pending records to the consumer
	// and returns their current bodies.
	Claim(ctx context.Context, args ClaimArgs) ([]RawRecord, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}
