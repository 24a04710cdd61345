package xstream

import "context"

// Add appends a record built from fields to the stream at key and resolves
// to the assigned id. Fields are encoded in insertion order; duplicate
// field keys have already collapsed to the last write inside the FieldMap.
//
// Validation and encoding run now; the transport call waits for Await.
func (c *Client[K, F, V]) Add(key K, fields *FieldMap[F, V], opts ...AddOption) Task[ID] {
	const op = "add"

	if c.closed.Load() {
		return FailedTask[ID](ErrClientClosed)
	}
	if fields == nil || fields.Len() == 0 {
		return FailedTask[ID](argErr(op, "record requires at least one field"))
	}

	o := addOptions{id: IDAuto}
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}
	if o.id == "" {
		o.id = IDAuto
	}
	if o.id != IDAuto && !o.id.IsConcrete() {
		return FailedTask[ID](argErrf(op, "explicit id %q is not a concrete id", o.id))
	}
	if o.maxLen < 0 {
		return FailedTask[ID](argErrf(op, "maxlen must be >= 0, got %d", o.maxLen))
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[ID](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	rawFields, err := encodeFields(c, op, fields)
	if err != nil {
		return FailedTask[ID](err)
	}

	args := AddArgs{
		Key:    rawKey,
		ID:     o.id,
		Fields: rawFields,
		MaxLen: o.maxLen,
		Approx: o.approx,
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (ID, error) {
		id, err := c.transport.Add(ctx, args)
		if err == nil {
			c.metrics.recordsOut.Add(1)
		}
		return id, err
	})
}

// AddRecord appends an already assembled record. A concrete rec.ID submits
// under that id, as if passed through WithID.
func (c *Client[K, F, V]) AddRecord(rec *Record[K, F, V], opts ...AddOption) Task[ID] {
	if rec == nil {
		return FailedTask[ID](argErr("add", "record must not be nil"))
	}
	if rec.ID != "" && rec.ID != IDAuto {
		opts = append(opts, WithID(rec.ID))
	}
	return c.Add(rec.Key, rec.Fields, opts...)
}

// Delete removes the given records from the stream at key and resolves to
// the number that actually existed. Ids unknown to the stream count as
// zero, not as an error.
func (c *Client[K, F, V]) Delete(key K, ids ...ID) Task[int64] {
	const op = "delete"

	if c.closed.Load() {
		return FailedTask[int64](ErrClientClosed)
	}
	if err := checkIDs(op, ids); err != nil {
		return FailedTask[int64](err)
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[int64](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (int64, error) {
		return c.transport.Delete(ctx, rawKey, ids)
	})
}

// Len resolves to the number of records in the stream at key. A stream
// that does not exist has length zero.
func (c *Client[K, F, V]) Len(key K) Task[int64] {
	const op = "len"

	if c.closed.Load() {
		return FailedTask[int64](ErrClientClosed)
	}
	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[int64](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (int64, error) {
		return c.transport.Len(ctx, rawKey)
	})
}

// Trim evicts the oldest records until at most maxLen remain and resolves
// to the number evicted. With TrimApprox the transport may evict in
// batches and briefly overshoot maxLen.
func (c *Client[K, F, V]) Trim(key K, maxLen int64, opts ...TrimOption) Task[int64] {
	const op = "trim"

	if c.closed.Load() {
		return FailedTask[int64](ErrClientClosed)
	}
	if maxLen < 0 {
		return FailedTask[int64](argErrf(op, "maxlen must be >= 0, got %d", maxLen))
	}

	var o trimOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedTask[int64](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}
	return runOp(c, op, keyString(key), func(ctx context.Context) (int64, error) {
		return c.transport.Trim(ctx, rawKey, maxLen, o.approx)
	})
}

// Range reads records within rng in stream order (oldest first). An
// interval matching nothing yields an empty sequence.
func (c *Client[K, F, V]) Range(key K, rng Range, limit Limit) Seq[*Record[K, F, V]] {
	return c.rangeSeq("range", key, rng, limit, false)
}

// RevRange reads records within rng newest first. The same Range value
// addresses the same records as Range; only traversal order changes.
func (c *Client[K, F, V]) RevRange(key K, rng Range, limit Limit) Seq[*Record[K, F, V]] {
	return c.rangeSeq("revrange", key, rng, limit, true)
}

func (c *Client[K, F, V]) rangeSeq(op string, key K, rng Range, limit Limit, rev bool) Seq[*Record[K, F, V]] {
	if c.closed.Load() {
		return FailedSeq[*Record[K, F, V]](ErrClientClosed)
	}
	if err := rng.validate(op); err != nil {
		return FailedSeq[*Record[K, F, V]](err)
	}
	if limit.Count < 0 {
		return FailedSeq[*Record[K, F, V]](argErrf(op, "limit must be >= 0, got %d", limit.Count))
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return FailedSeq[*Record[K, F, V]](argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err))
	}

	args := RangeArgs{
		Key:            rawKey,
		Start:          rng.Start,
		End:            rng.End,
		StartExclusive: rng.StartExclusive,
		EndExclusive:   rng.EndExclusive,
		Count:          limit.Count,
		Rev:            rev,
	}
	return runSeq(c, op, keyString(key), func(ctx context.Context, yield func(*Record[K, F, V]) bool) error {
		raws, err := c.transport.Range(ctx, args)
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

func checkIDs(op string, ids []ID) error {
	if len(ids) == 0 {
		return argErr(op, "at least one record id required")
	}
	for _, id := range ids {
		if !id.IsConcrete() {
			return argErrf(op, "id %q is not a concrete record id", id)
		}
	}
	return nil
}
