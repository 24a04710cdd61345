package xstream

import (
	"context"
	"time"
)

// Read reads new records past the given offsets, outside any consumer
// group. Records come back grouped by stream, each stream in submission
// order. A read that finds nothing (including one that waited the full
// Block duration) yields an empty sequence.
func (c *Client[K, F, V]) Read(opts ReadOptions, offsets ...Offset[K]) Seq[*Record[K, F, V]] {
	const op = "read"

	if c.closed.Load() {
		return FailedSeq[*Record[K, F, V]](ErrClientClosed)
	}
	if err := checkReadOptions(op, opts); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}
	if len(offsets) == 0 {
		return FailedSeq[*Record[K, F, V]](argErr(op, "at least one stream offset required"))
	}
	for _, off := range offsets {
		if off.From != IDStart && off.From != IDLatest && !off.From.IsConcrete() {
			if off.From == IDUndelivered {
				return FailedSeq[*Record[K, F, V]](argErr(op, "undelivered offset requires a consumer-group read"))
			}
			return FailedSeq[*Record[K, F, V]](argErrf(op, "offset id %q is not readable", off.From))
		}
	}

	raw, err := c.encodeOffsets(op, offsets)
	if err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}

	args := ReadArgs{Streams: raw, Count: opts.Count, Block: opts.Block}
	return c.readSeq(op, streamsLabel(offsets), func(ctx context.Context) ([]RawStream, error) {
		return c.transport.Read(ctx, args)
	})
}

// ReadGroup reads on behalf of consumer, tracking deliveries in the
// group's pending list until acknowledged (unless opts.NoAck). Offsets of
// IDUndelivered ask for records the group has never seen; a concrete
// offset replays the consumer's own pending history after that id.
func (c *Client[K, F, V]) ReadGroup(consumer Consumer, opts ReadOptions, offsets ...Offset[K]) Seq[*Record[K, F, V]] {
	const op = "readgroup"

	if c.closed.Load() {
		return FailedSeq[*Record[K, F, V]](ErrClientClosed)
	}
	if err := checkConsumer(op, consumer); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}
	if err := checkReadOptions(op, opts); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}
	if len(offsets) == 0 {
		return FailedSeq[*Record[K, F, V]](argErr(op, "at least one stream offset required"))
	}
	for _, off := range offsets {
		if off.From != IDUndelivered && !off.From.IsConcrete() {
			if off.From == IDLatest {
				return FailedSeq[*Record[K, F, V]](argErr(op, "latest offset is meaningless in a consumer-group read"))
			}
			return FailedSeq[*Record[K, F, V]](argErrf(op, "offset id %q is not readable in a consumer-group read", off.From))
		}
	}

	raw, err := c.encodeOffsets(op, offsets)
	if err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}

	args := ReadGroupArgs{
		Group:    consumer.Group,
		Consumer: consumer.Name,
		Streams:  raw,
		Count:    opts.Count,
		Block:    opts.Block,
		NoAck:    opts.NoAck,
	}
	return c.readSeq(op, streamsLabel(offsets), func(ctx context.Context) ([]RawStream, error) {
		return c.transport.ReadGroup(ctx, args)
	})
}

// Ack acknowledges processed records for group at key and resolves to the
// number that were still pending. Acknowledging an already acknowledged
// (or never delivered) id counts as zero; repeating an Ack is harmless.
func (c *Client[K, F, V]) Ack(key K, group string, ids ...ID) Task[int64] {
	const op = "ack"

	if c.closed.Load() {
		return FailedTask[int64](ErrClientClosed)
	}
	if group == "" {
		return FailedTask[int64](argErr(op, "group must not be empty"))
	}
	if err := checkIDs(op, ids); err != nil {
		return FailedTask[int64](err)
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[int64](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (int64, error) {
		n, err := c.transport.Ack(ctx, rawKey, group, ids)
		if err == nil {
			c.metrics.ackCount.Add(uint64(n))
		}
		return n, err
	})
}

// EnsureGroup creates the consumer group on the stream at key, creating
// the stream itself when missing, and resolves to true when this call
// created the group. An existing group resolves to false with no error,
// so EnsureGroup is safe to run on every startup.
//
// from sets the group's starting position: IDLatest to consume only
// records appended after creation, IDStart (or a concrete id) to consume
// history.
func (c *Client[K, F, V]) EnsureGroup(key K, group string, from ID) Task[bool] {
	const op = "ensuregroup"

	if c.closed.Load() {
		return FailedTask[bool](ErrClientClosed)
	}
	if group == "" {
		return FailedTask[bool](argErr(op, "group must not be empty"))
	}
	if from != IDStart && from != IDLatest && !from.IsConcrete() {
		return FailedTask[bool](argErrf(op, "start id %q is not valid for a group", from))
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[bool](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (bool, error) {
		return c.transport.EnsureGroup(ctx, rawKey, group, from)
	})
}

// DestroyGroup removes the consumer group and its pending state from the
// stream at key, resolving to true when the group existed.
func (c *Client[K, F, V]) DestroyGroup(key K, group string) Task[bool] {
	const op = "destroygroup"

	if c.closed.Load() {
		return FailedTask[bool](ErrClientClosed)
	}
	if group == "" {
		return FailedTask[bool](argErr(op, "group must not be empty"))
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[bool](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (bool, error) {
		return c.transport.DestroyGroup(ctx, rawKey, group)
	})
}

// PendingOption adjusts a Pending call.
type PendingOption func(*pendingOptions)

type pendingOptions struct {
	minIdle  time.Duration
	consumer string
}

// WithMinIdle restricts Pending to entries idle for at least d.
func WithMinIdle(d time.Duration) PendingOption {
	return func(o *pendingOptions) { o.minIdle = d }
}

// WithConsumer restricts Pending to entries owned by the named consumer.
func WithConsumer(name string) PendingOption {
	return func(o *pendingOptions) { o.consumer = name }
}

// Pending summarizes up to count entries of the group's pending list
// within rng. The summaries are bookkeeping only; no record body is
// fetched and no codec runs, so Pending cannot fail with a DecodeError.
func (c *Client[K, F, V]) Pending(key K, group string, rng Range, count int64, opts ...PendingOption) Seq[PendingRecord] {
	const op = "pending"

	if c.closed.Load() {
		return FailedSeq[PendingRecord](ErrClientClosed)
	}
	if group == "" {
		return FailedSeq[PendingRecord](argErr(op, "group must not be empty"))
	}
	if err := rng.validate(op); err != nil {
		return FailedSeq[PendingRecord](err)
	}
	if count < 1 {
		return FailedSeq[PendingRecord](argErrf(op, "count must be >= 1, got %d", count))
	}

	var o pendingOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedSeq[PendingRecord](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}

	args := PendingArgs{
		Key:            rawKey,
		Group:          group,
		Start:          rng.Start,
		End:            rng.End,
		StartExclusive: rng.StartExclusive,
		EndExclusive:   rng.EndExclusive,
		Count:          count,
		MinIdle:        o.minIdle,
		Consumer:       o.consumer,
	}
	return runSeq(c, op, keyString(key), func(ctx context.Context, yield func(PendingRecord) bool) error {
		entries, err := c.transport.Pending(ctx, args)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !yield(e) {
				return nil
			}
		}
		return nil
	})
}

// Claim transfers ownership of the given pending records to consumer,
// provided they have been idle for at least minIdle, and reads back their
// current bodies. Records that were deleted from the stream or claimed
// elsewhere in the meantime are silently absent from the result.
func (c *Client[K, F, V]) Claim(key K, consumer Consumer, minIdle time.Duration, ids ...ID) Seq[*Record[K, F, V]] {
	const op = "claim"

	if c.closed.Load() {
		return FailedSeq[*Record[K, F, V]](ErrClientClosed)
	}
	if err := checkConsumer(op, consumer); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}
	if minIdle < 0 {
		return FailedSeq[*Record[K, F, V]](argErrf(op, "min idle must be >= 0, got %v", minIdle))
	}
	if err := checkIDs(op, ids); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedSeq[*Record[K, F, V]](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}

	args := ClaimArgs{
		Key:      rawKey,
		Group:    consumer.Group,
		Consumer: consumer.Name,
		MinIdle:  minIdle,
		IDs:      ids,
	}
	return runSeq(c, op, keyString(key), func(ctx context.Context, yield func(*Record[K, F, V]) bool) error {
		raws, err := c.transport.Claim(ctx, args)
		if err != nil {
			return err
		}
		for i := range raws {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := decodeRecord(c, key, raws[i])
			if err != nil {
				return err
			}
			c.metrics.recordsIn.Add(1)
			if !yield(rec) {
				return nil
			}
		}
		return nil
	})
}

// readSeq decodes multi-stream read results one record at a time, so a
// consumer that stops (or a canceled context) skips the remaining decodes.
func (c *Client[K, F, V]) readSeq(op, label string, fetch func(ctx context.Context) ([]RawStream, error)) Seq[*Record[K, F, V]] {
	return runSeq(c, op, label, func(ctx context.Context, yield func(*Record[K, F, V]) bool) error {
		streams, err := fetch(ctx)
		if err != nil {
			return err
		}
		for i := range streams {
			key, err := decodeKey(c, streams[i].Key)
			if err != nil {
				return err
			}
			for _, raw := range streams[i].Records {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := decodeRecord(c, key, raw)
				if err != nil {
					return err
				}
				c.metrics.recordsIn.Add(1)
				if !yield(rec) {
					return nil
				}
			}
		}
		return nil
	})
}

func (c *Client[K, F, V]) encodeOffsets(op string, offsets []Offset[K]) ([]RawOffset, error) {
	raw := make([]RawOffset, 0, len(offsets))
	for _, off := range offsets {
		if off.From.IsZero() {
			return nil, argErr(op, "offset id must be set")
		}
		k, err := c.keyCodec.Encode(off.Key)
		if err != nil {
			return nil, argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err)
		}
		raw = append(raw, RawOffset{Key: k, From: off.From})
	}
	return raw, nil
}

func checkReadOptions(op string, opts ReadOptions) error {
	if opts.Count < 0 {
		return argErrf(op, "count must be >= 0, got %d", opts.Count)
	}
	if opts.Block < 0 {
		return argErrf(op, "block must be >= 0, got %v", opts.Block)
	}
	return nil
}

func checkConsumer(op string, consumer Consumer) error {
	if consumer.Group == "" {
		return argErr(op, "consumer group must not be empty")
	}
	if consumer.Name == "" {
		return argErr(op, "consumer name must not be empty")
	}
	return nil
}

func streamsLabel[K any](offsets []Offset[K]) string {
	if len(offsets) == 1 {
		return keyString(offsets[0].Key)
	}
	label := ""
	for i, off := range offsets {
		if i > 0 {
			label += ","
		}
		label += keyString(off.Key)
	}
	return label
}
