package xstream

import "time"

// Range selects a closed id interval for range queries. Bounds are
// inclusive unless the corresponding Exclusive flag is set; exclusive
// bounds require concrete ids.
type Range struct {
	Start ID
	End   ID

	StartExclusive bool
	EndExclusive   bool
}

// RangeAll spans the entire stream.
func RangeAll() Range {
	return Range{Start: IDRangeMin, End: IDRangeMax}
}

// RangeFrom spans from start to the end of the stream.
func RangeFrom(start ID) Range {
	return Range{Start: start, End: IDRangeMax}
}

// RangeUntil spans from the beginning of the stream to end.
func RangeUntil(end ID) Range {
	return Range{Start: IDRangeMin, End: end}
}

// RangeBetween spans from start to end, both inclusive.
func RangeBetween(start, end ID) Range {
	return Range{Start: start, End: end}
}

func (r Range) validate(op string) error {
	if r.Start.IsZero() || r.End.IsZero() {
		return argErr(op, "range bounds must be set (use RangeAll for the full stream)")
	}
	if r.StartExclusive && !r.Start.IsConcrete() {
		return argErr(op, "exclusive start bound requires a concrete id")
	}
	if r.EndExclusive && !r.End.IsConcrete() {
		return argErr(op, "exclusive end bound requires a concrete id")
	}
	return nil
}

// Limit bounds the number of records a range query may return.
// A zero Count means unbounded.
type Limit struct {
	Count int64
}

// NoLimit returns an unbounded Limit.
func NoLimit() Limit { return Limit{} }

// MaxCount bounds a range query to n records.
func MaxCount(n int64) Limit { return Limit{Count: n} }

// ReadOptions tune read operations. The zero value reads without blocking
// and without a count bound.
type ReadOptions struct {
	// Count caps the records returned per stream; 0 means no cap.
	Count int64
	// Block is the maximum time to wait for new records. Zero returns
	// immediately with whatever is available; an empty result after the
	// wait is a normal outcome, not an error.
	Block time.Duration
	// NoAck skips pending-list bookkeeping on group reads, trading
	// redelivery safety for throughput. Ignored outside group reads.
	NoAck bool
}

// Consumer names a consumer inside a consumer group.
type Consumer struct {
	Group string
	Name  string
}

// Offset pairs a stream with the position to read from.
type Offset[K any] struct {
	Key  K
	From ID
}

// From reads key starting after the given id.
func From[K any](key K, id ID) Offset[K] {
	return Offset[K]{Key: key, From: id}
}

// FromStart reads key from the beginning of the stream.
func FromStart[K any](key K) Offset[K] {
	return Offset[K]{Key: key, From: IDStart}
}

// FromLatest reads key from its current end, observing only records
// appended after the call.
func FromLatest[K any](key K) Offset[K] {
	return Offset[K]{Key: key, From: IDLatest}
}

// FromUndelivered reads records never delivered to the consumer group.
// Only valid with ReadGroup.
func FromUndelivered[K any](key K) Offset[K] {
	return Offset[K]{Key: key, From: IDUndelivered}
}

// PendingRecord summarizes one entry of a group's pending list. It carries
// bookkeeping only; the record body is not fetched and no codec runs.
type PendingRecord struct {
	ID         ID
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// AddOption adjusts a single Add call.
type AddOption func(*addOptions)

type addOptions struct {
	id     ID
	maxLen int64
	approx bool
}

// WithID submits the record under an explicit id instead of a
// transport-assigned one. The id must be concrete and greater than every
// id already in the stream.
func WithID(id ID) AddOption {
	return func(o *addOptions) { o.id = id }
}

// WithMaxLen trims the stream to at most n records as part of the add.
func WithMaxLen(n int64) AddOption {
	return func(o *addOptions) { o.maxLen = n; o.approx = false }
}

// WithMaxLenApprox trims the stream to roughly n records as part of the
// add, letting the transport batch evictions for efficiency.
func WithMaxLenApprox(n int64) AddOption {
	return func(o *addOptions) { o.maxLen = n; o.approx = true }
}

// TrimOption adjusts a Trim call.
type TrimOption func(*trimOptions)

type trimOptions struct {
	approx bool
}

// TrimApprox lets the transport overshoot the target length and evict in
// batches. The stream may briefly hold more than maxLen records.
func TrimApprox() TrimOption {
	return func(o *trimOptions) { o.approx = true }
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the client.
type Metrics struct {
	Ops                 uint64
	RecordsOut          uint64
	RecordsIn           uint64
	Acked               uint64
	Errors              uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates client health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
