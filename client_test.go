package xstream_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/adapter/memory"
)

func newStringClient(t *testing.T, tr xstream.Transport) *xstream.Client[string, string, string] {
	t.Helper()
	client, err := xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(tr).
		WithKeyCodec(xstream.String()).
		WithFieldCodec(xstream.String()).
		WithValueCodec(xstream.String()).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func mustAdd(t *testing.T, c *xstream.Client[string, string, string], key string, kvs ...string) xstream.ID {
	t.Helper()
	fm := xstream.NewFieldMap[string, string]()
	for i := 0; i+1 < len(kvs); i += 2 {
		fm.Set(kvs[i], kvs[i+1])
	}
	id, err := c.Add(key, fm).Await(context.Background())
	require.NoError(t, err)
	return id
}

func TestAddRangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	first := mustAdd(t, c, "orders", "sku", "A-1", "qty", "3", "note", "rush")
	second := mustAdd(t, c, "orders", "sku", "B-2", "qty", "1")

	recs, err := c.Range("orders", xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.Equal(t, "orders", recs[0].Key)
	require.Equal(t, first, recs[0].ID)
	require.Equal(t, []string{"sku", "qty", "note"}, recs[0].Fields.Keys())
	qty, ok := recs[0].Fields.Get("qty")
	require.True(t, ok)
	require.Equal(t, "3", qty)

	require.Equal(t, second, recs[1].ID)
	require.True(t, recs[0].ID.Before(recs[1].ID))
}

func TestRevRangeReversesTraversal(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	ids := []xstream.ID{
		mustAdd(t, c, "orders", "n", "1"),
		mustAdd(t, c, "orders", "n", "2"),
		mustAdd(t, c, "orders", "n", "3"),
	}

	recs, err := c.RevRange("orders", xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, ids[2], recs[0].ID)
	require.Equal(t, ids[0], recs[2].ID)
}

func TestRangeWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	var ids []xstream.ID
	for i := 0; i < 5; i++ {
		ids = append(ids, mustAdd(t, c, "orders", "n", "x"))
	}

	recs, err := c.Range("orders", xstream.RangeBetween(ids[1], ids[3]), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, ids[1], recs[0].ID)
	require.Equal(t, ids[3], recs[2].ID)

	// Exclusive bounds trim both edges of the same window.
	recs, err = c.Range("orders", xstream.Range{
		Start: ids[1], End: ids[3], StartExclusive: true, EndExclusive: true,
	}, xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, ids[2], recs[0].ID)

	recs, err = c.Range("orders", xstream.RangeAll(), xstream.MaxCount(2)).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, ids[0], recs[0].ID)
}

func TestRangeMissingStreamIsEmpty(t *testing.T) {
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	recs, err := c.Range("nope", xstream.RangeAll(), xstream.NoLimit()).Collect(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestLenTrimDelete(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	var ids []xstream.ID
	for i := 0; i < 5; i++ {
		ids = append(ids, mustAdd(t, c, "orders", "n", "x"))
	}

	n, err := c.Len("orders").Await(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	evicted, err := c.Trim("orders", 2).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), evicted)

	// Deleting a survivor and an already evicted id counts only the survivor.
	deleted, err := c.Delete("orders", ids[4], ids[0]).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	n, err = c.Len("orders").Await(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	deleted, err = c.Delete("ghost", ids[0]).Await(ctx)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestReadFromStart(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")
	mustAdd(t, c, "orders", "n", "2")

	recs, err := c.Read(xstream.ReadOptions{}, xstream.FromStart("orders")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestReadMultipleStreams(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")
	mustAdd(t, c, "refunds", "n", "2")

	recs, err := c.Read(xstream.ReadOptions{},
		xstream.FromStart("orders"),
		xstream.FromStart("refunds"),
	).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "orders", recs[0].Key)
	require.Equal(t, "refunds", recs[1].Key)
}

func TestReadNothingAvailableIsEmptySuccess(t *testing.T) {
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")

	// Nothing past the tail and no block window: zero iterations, no error.
	iterations := 0
	for _, err := range c.Read(xstream.ReadOptions{}, xstream.FromLatest("orders")).All(context.Background()) {
		require.NoError(t, err)
		iterations++
	}
	require.Zero(t, iterations)
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "billing", Name: "worker-1"}

	created, err := c.EnsureGroup("orders", "billing", xstream.IDStart).Await(ctx)
	require.NoError(t, err)
	require.True(t, created)

	created, err = c.EnsureGroup("orders", "billing", xstream.IDStart).Await(ctx)
	require.NoError(t, err)
	require.False(t, created)

	first := mustAdd(t, c, "orders", "n", "1")
	second := mustAdd(t, c, "orders", "n", "2")

	recs, err := c.ReadGroup(consumer, xstream.ReadOptions{}, xstream.FromUndelivered("orders")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	acked, err := c.Ack("orders", "billing", first, second).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), acked)

	// Acking again is harmless and counts nothing.
	acked, err = c.Ack("orders", "billing", first, second).Await(ctx)
	require.NoError(t, err)
	require.Zero(t, acked)

	pend, err := c.Pending("orders", "billing", xstream.RangeAll(), 10).Collect(ctx)
	require.NoError(t, err)
	require.Empty(t, pend)

	destroyed, err := c.DestroyGroup("orders", "billing").Await(ctx)
	require.NoError(t, err)
	require.True(t, destroyed)

	destroyed, err = c.DestroyGroup("orders", "billing").Await(ctx)
	require.NoError(t, err)
	require.False(t, destroyed)
}

func TestReadGroupWithoutGroupFailsVerbatim(t *testing.T) {
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "billing", Name: "worker-1"}

	mustAdd(t, c, "orders", "n", "1")

	_, err := c.ReadGroup(consumer, xstream.ReadOptions{}, xstream.FromUndelivered("orders")).Collect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOGROUP")
	require.False(t, xstream.IsArgument(err))
}

func TestPendingAndClaim(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	c1 := xstream.Consumer{Group: "billing", Name: "worker-1"}
	c2 := xstream.Consumer{Group: "billing", Name: "worker-2"}

	_, err := c.EnsureGroup("orders", "billing", xstream.IDStart).Await(ctx)
	require.NoError(t, err)
	id := mustAdd(t, c, "orders", "n", "1")

	recs, err := c.ReadGroup(c1, xstream.ReadOptions{}, xstream.FromUndelivered("orders")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	pend, err := c.Pending("orders", "billing", xstream.RangeAll(), 10).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	require.Equal(t, id, pend[0].ID)
	require.Equal(t, "worker-1", pend[0].Consumer)
	require.Equal(t, int64(1), pend[0].Deliveries)

	// A fresh delivery is not idle yet.
	pend, err = c.Pending("orders", "billing", xstream.RangeAll(), 10, xstream.WithMinIdle(time.Hour)).Collect(ctx)
	require.NoError(t, err)
	require.Empty(t, pend)

	// The owning consumer replays its own history; others see nothing.
	recs, err = c.ReadGroup(c1, xstream.ReadOptions{}, xstream.From("orders", xstream.IDStart)).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	recs, err = c.ReadGroup(c2, xstream.ReadOptions{}, xstream.From("orders", xstream.IDStart)).Collect(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)

	claimed, err := c.Claim("orders", c2, 0, id).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id, claimed[0].ID)

	pend, err = c.Pending("orders", "billing", xstream.RangeAll(), 10, xstream.WithConsumer("worker-2")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	require.Equal(t, int64(2), pend[0].Deliveries)
}

func TestArgumentErrorsFailFast(t *testing.T) {
	tr := memory.NewTransport(memory.Config{})
	c := newStringClient(t, tr)
	ctx := context.Background()
	consumer := xstream.Consumer{Group: "g", Name: "n"}

	cases := []struct {
		name string
		err  func() error
	}{
		{"add without fields", func() error {
			_, err := c.Add("k", xstream.NewFieldMap[string, string]()).Await(ctx)
			return err
		}},
		{"add nil fields", func() error {
			_, err := c.Add("k", nil).Await(ctx)
			return err
		}},
		{"add with sentinel id", func() error {
			fm := xstream.NewFieldMap[string, string]().Set("a", "b")
			_, err := c.Add("k", fm, xstream.WithID(xstream.IDLatest)).Await(ctx)
			return err
		}},
		{"add with negative maxlen", func() error {
			fm := xstream.NewFieldMap[string, string]().Set("a", "b")
			_, err := c.Add("k", fm, xstream.WithMaxLen(-1)).Await(ctx)
			return err
		}},
		{"delete without ids", func() error {
			_, err := c.Delete("k").Await(ctx)
			return err
		}},
		{"delete with sentinel id", func() error {
			_, err := c.Delete("k", xstream.IDRangeMax).Await(ctx)
			return err
		}},
		{"trim negative maxlen", func() error {
			_, err := c.Trim("k", -1).Await(ctx)
			return err
		}},
		{"range with unset bounds", func() error {
			_, err := c.Range("k", xstream.Range{}, xstream.NoLimit()).Collect(ctx)
			return err
		}},
		{"range negative limit", func() error {
			_, err := c.Range("k", xstream.RangeAll(), xstream.MaxCount(-1)).Collect(ctx)
			return err
		}},
		{"range exclusive sentinel bound", func() error {
			_, err := c.Range("k", xstream.Range{
				Start: xstream.IDRangeMin, End: xstream.IDRangeMax, StartExclusive: true,
			}, xstream.NoLimit()).Collect(ctx)
			return err
		}},
		{"read without offsets", func() error {
			_, err := c.Read(xstream.ReadOptions{}).Collect(ctx)
			return err
		}},
		{"read undelivered offset", func() error {
			_, err := c.Read(xstream.ReadOptions{}, xstream.FromUndelivered("k")).Collect(ctx)
			return err
		}},
		{"read negative block", func() error {
			_, err := c.Read(xstream.ReadOptions{Block: -time.Second}, xstream.FromStart("k")).Collect(ctx)
			return err
		}},
		{"readgroup latest offset", func() error {
			_, err := c.ReadGroup(consumer, xstream.ReadOptions{}, xstream.FromLatest("k")).Collect(ctx)
			return err
		}},
		{"readgroup anonymous consumer", func() error {
			_, err := c.ReadGroup(xstream.Consumer{}, xstream.ReadOptions{}, xstream.FromUndelivered("k")).Collect(ctx)
			return err
		}},
		{"ack without group", func() error {
			_, err := c.Ack("k", "", xstream.NewID(1, 0)).Await(ctx)
			return err
		}},
		{"ensuregroup undelivered start", func() error {
			_, err := c.EnsureGroup("k", "g", xstream.IDUndelivered).Await(ctx)
			return err
		}},
		{"pending zero count", func() error {
			_, err := c.Pending("k", "g", xstream.RangeAll(), 0).Collect(ctx)
			return err
		}},
		{"claim negative idle", func() error {
			_, err := c.Claim("k", consumer, -time.Second, xstream.NewID(1, 0)).Collect(ctx)
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.err()
			require.Error(t, err)
			require.True(t, xstream.IsArgument(err), "want ArgumentError, got %v", err)
		})
	}

	// Argument checks run before any transport interaction.
	require.Zero(t, tr.Stats().Added)
	require.Zero(t, tr.Stats().Read)
}

func TestDecodeErrorAbandonsBatch(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewTransport(memory.Config{})
	writer := newStringClient(t, tr)

	reader, err := xstream.NewClientBuilder[string, string, int64]().
		WithTransportInstance(tr).
		WithKeyCodec(xstream.String()).
		WithFieldCodec(xstream.String()).
		WithValueCodec(xstream.Int64()).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close(context.Background()) })

	mustAdd(t, writer, "counters", "n", "42")
	mustAdd(t, writer, "counters", "n", "not-a-number")

	recs, err := reader.Range("counters", xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.Error(t, err)
	require.True(t, xstream.IsDecode(err), "want DecodeError, got %v", err)
	require.Nil(t, recs)

	// Streaming consumption decodes lazily: the good record arrives before
	// the failure ends the iteration.
	var vals []int64
	var decodeErr error
	for rec, err := range reader.Range("counters", xstream.RangeAll(), xstream.NoLimit()).All(ctx) {
		if err != nil {
			decodeErr = err
			continue
		}
		v, _ := rec.Fields.Get("n")
		vals = append(vals, v)
	}
	require.Equal(t, []int64{42}, vals)
	require.True(t, xstream.IsDecode(decodeErr))
}

func TestSequencesAreCold(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")
	seq := c.Range("orders", xstream.RangeAll(), xstream.NoLimit())

	recs, err := seq.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// The same Seq value re-issues the query and sees later writes.
	mustAdd(t, c, "orders", "n", "2")
	recs, err = seq.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestAddRecordWithExplicitID(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	rec := xstream.NewRecord("orders", xstream.NewFieldMap[string, string]().Set("n", "1"))
	rec.ID = xstream.NewID(5, 1)

	id, err := c.AddRecord(rec).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, xstream.NewID(5, 1), id)

	// Ids must grow; the transport rejects a stale one and the error
	// passes through untranslated.
	fm := xstream.NewFieldMap[string, string]().Set("n", "2")
	_, err = c.Add("orders", fm, xstream.WithID(xstream.NewID(5, 0))).Await(ctx)
	require.Error(t, err)
	require.False(t, xstream.IsArgument(err))
}

func TestOperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")

	// A Task built before Close still fails at await time.
	pending := c.Len("orders")

	require.NoError(t, c.Close(ctx))

	_, err := pending.Await(ctx)
	require.ErrorIs(t, err, xstream.ErrClientClosed)

	fm := xstream.NewFieldMap[string, string]().Set("n", "2")
	_, err = c.Add("orders", fm).Await(ctx)
	require.ErrorIs(t, err, xstream.ErrClientClosed)

	_, err = c.Range("orders", xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.ErrorIs(t, err, xstream.ErrClientClosed)

	// Close is idempotent.
	require.NoError(t, c.Close(ctx))
}

func TestMetricsAndHealth(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))

	mustAdd(t, c, "orders", "n", "1")
	mustAdd(t, c, "orders", "n", "2")
	_, err := c.Range("orders", xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)

	m := c.GetMetrics()
	require.Equal(t, uint64(2), m.RecordsOut)
	require.Equal(t, uint64(2), m.RecordsIn)
	require.GreaterOrEqual(t, m.Ops, uint64(3))
	require.Zero(t, m.Errors)

	h := c.Health(ctx)
	require.Equal(t, "healthy", h.Status)
	require.False(t, h.Timestamp.IsZero())

	require.NoError(t, c.Close(ctx))
	require.Equal(t, "unhealthy", c.Health(ctx).Status)
}

func TestBuilderRequiresTransportAndCodecs(t *testing.T) {
	_, err := xstream.NewClientBuilder[string, string, string]().Build()
	require.ErrorIs(t, err, xstream.ErrNoTransportConfigured)

	_, err = xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(memory.NewTransport(memory.Config{})).
		Build()
	require.ErrorIs(t, err, xstream.ErrNoKeyCodec)

	_, err = xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(memory.NewTransport(memory.Config{})).
		WithKeyCodec(xstream.String()).
		Build()
	require.ErrorIs(t, err, xstream.ErrNoFieldCodec)

	_, err = xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(memory.NewTransport(memory.Config{})).
		WithKeyCodec(xstream.String()).
		WithFieldCodec(xstream.String()).
		Build()
	require.ErrorIs(t, err, xstream.ErrNoValueCodec)
}

func TestUseBuildsWorkingClient(t *testing.T) {
	ctx := context.Background()
	c := memory.Use(memory.Config{},
		memory.WithCodecs(xstream.String(), xstream.String(), xstream.String()),
	)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	id, err := c.Add("orders", xstream.NewFieldMap[string, string]().Set("n", "1")).Await(ctx)
	require.NoError(t, err)
	require.True(t, id.IsConcrete())
}

// countingCodec counts value decodes so tests can observe exactly how
// many records were materialized.
type countingCodec struct {
	inner   xstream.Codec[string]
	decodes atomic.Int32
}

func (c *countingCodec) Encode(v string) ([]byte, error) { return c.inner.Encode(v) }

func (c *countingCodec) Decode(b []byte) (string, error) {
	c.decodes.Add(1)
	return c.inner.Decode(b)
}

func (c *countingCodec) Name() string { return c.inner.Name() }

func TestCancelSkipsRemainingDecodes(t *testing.T) {
	tr := memory.NewTransport(memory.Config{})
	writer := newStringClient(t, tr)

	counting := &countingCodec{inner: xstream.String()}
	reader, err := xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(tr).
		WithKeyCodec(xstream.String()).
		WithFieldCodec(xstream.String()).
		WithValueCodec(counting).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close(context.Background()) })

	mustAdd(t, writer, "orders", "n", "1")
	mustAdd(t, writer, "orders", "n", "2")
	mustAdd(t, writer, "orders", "n", "3")

	// Canceling during consumption ends the iteration with the context
	// error and leaves the undelivered records undecoded.
	ctx, cancel := context.WithCancel(context.Background())
	var delivered int
	var iterErr error
	for _, err := range reader.Range("orders", xstream.RangeAll(), xstream.NoLimit()).All(ctx) {
		if err != nil {
			iterErr = err
			continue
		}
		delivered++
		cancel()
	}
	require.Equal(t, 1, delivered)
	require.ErrorIs(t, iterErr, context.Canceled)
	require.Equal(t, int32(1), counting.decodes.Load())

	// Same guarantee on the multi-stream read path.
	counting.decodes.Store(0)
	ctx, cancel = context.WithCancel(context.Background())
	delivered = 0
	for _, err := range reader.Read(xstream.ReadOptions{}, xstream.FromStart("orders")).All(ctx) {
		if err != nil {
			continue
		}
		delivered++
		cancel()
	}
	require.Equal(t, 1, delivered)
	require.Equal(t, int32(1), counting.decodes.Load())
}
