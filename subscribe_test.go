package xstream_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xstream"
	"github.com/trickstertwo/xstream/adapter/memory"
)

func fastSubOptions() *xstream.SubscribeOptions[string] {
	return &xstream.SubscribeOptions[string]{
		Count:       16,
		Block:       20 * time.Millisecond,
		Concurrency: 2,
		From:        xstream.IDStart,
	}
}

// pendingCount must stay require-free: it runs inside Eventually
// conditions, off the test goroutine.
func pendingCount(c *xstream.Client[string, string, string], key, group string) int {
	pend, err := c.Pending(key, group, xstream.RangeAll(), 100).Collect(context.Background())
	if err != nil {
		return -1
	}
	return len(pend)
}

func TestSubscribeDeliversAndAcks(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}

	for i := 0; i < 3; i++ {
		mustAdd(t, c, "orders", "n", "x")
	}

	var handled atomic.Int32
	sub, err := c.Subscribe(ctx, "orders", consumer, func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
		handled.Add(1)
		return nil
	}, fastSubOptions())
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return handled.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return pendingCount(c, "orders", "proc") == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestSubscribeSeesRecordsAppendedAfterStart(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}

	got := make(chan string, 1)
	sub, err := c.Subscribe(ctx, "orders", consumer, func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
		v, _ := rec.Fields.Get("n")
		select {
		case got <- v:
		default:
		}
		return nil
	}, nil)
	require.NoError(t, err)
	defer sub.Close()

	mustAdd(t, c, "orders", "n", "late")

	select {
	case v := <-got:
		require.Equal(t, "late", v)
	case <-time.After(2 * time.Second):
		t.Fatal("record appended after subscribe never arrived")
	}
}

func TestSubscribeHandlerErrorLeavesPending(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}

	mustAdd(t, c, "orders", "n", "x")

	var handled atomic.Int32
	sub, err := c.Subscribe(ctx, "orders", consumer, func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
		handled.Add(1)
		return errors.New("cannot process")
	}, fastSubOptions())
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	pend, err := c.Pending("orders", "proc", xstream.RangeAll(), 100).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	require.Equal(t, "worker-1", pend[0].Consumer)
	require.Equal(t, int64(1), pend[0].Deliveries)

	// Without a claim loop the record is not redelivered to this consumer.
	require.NoError(t, sub.Close())
	require.Equal(t, int32(1), handled.Load())
}

func TestSubscribeDeadLettersFailedRecords(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}

	id := mustAdd(t, c, "orders", "n", "x")

	dlq := "orders-dlq"
	opts := fastSubOptions()
	opts.DeadLetter = &dlq

	sub, err := c.Subscribe(ctx, "orders", consumer, func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
		return errors.New("cannot process")
	}, opts)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		n, err := c.Len(dlq).Await(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)

	recs, err := c.Range(dlq, xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	origStream, _ := recs[0].Fields.Get("orig_stream")
	require.Equal(t, "orders", origStream)
	origID, _ := recs[0].Fields.Get("orig_id")
	require.Equal(t, id.String(), origID)
	reason, _ := recs[0].Fields.Get("error")
	require.Contains(t, reason, "cannot process")
	n, _ := recs[0].Fields.Get("n")
	require.Equal(t, "x", n)

	// The original was acknowledged so it cannot poison the group.
	require.Eventually(t, func() bool {
		return pendingCount(c, "orders", "proc") == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeDeadLettersUndecodableRecords(t *testing.T) {
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

	mustAdd(t, writer, "counters", "n", "not-a-number")

	dlq := "counters-dlq"
	var handled atomic.Int32
	sub, err := reader.Subscribe(ctx, "counters", xstream.Consumer{Group: "proc", Name: "worker-1"},
		func(ctx context.Context, rec *xstream.Record[string, string, int64]) error {
			handled.Add(1)
			return nil
		}, &xstream.SubscribeOptions[string]{
			Count:       16,
			Block:       20 * time.Millisecond,
			Concurrency: 2,
			From:        xstream.IDStart,
			DeadLetter:  &dlq,
		})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		n, err := writer.Len(dlq).Await(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The undecodable record never reached the handler.
	require.Zero(t, handled.Load())

	recs, err := writer.Range(dlq, xstream.RangeAll(), xstream.NoLimit()).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	reason, _ := recs[0].Fields.Get("error")
	require.Contains(t, reason, "decode")
}

func TestSubscribeClaimsStalePending(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	stale := xstream.Consumer{Group: "proc", Name: "crashed-worker"}

	_, err := c.EnsureGroup("orders", "proc", xstream.IDStart).Await(ctx)
	require.NoError(t, err)
	mustAdd(t, c, "orders", "n", "x")

	// Deliver to a consumer that never acks, leaving the record pending.
	recs, err := c.ReadGroup(stale, xstream.ReadOptions{}, xstream.FromUndelivered("orders")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	opts := fastSubOptions()
	opts.ClaimMinIdle = time.Millisecond
	opts.ClaimInterval = 10 * time.Millisecond
	opts.ClaimBatch = 16

	var handled atomic.Int32
	sub, err := c.Subscribe(ctx, "orders", xstream.Consumer{Group: "proc", Name: "worker-2"},
		func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
			handled.Add(1)
			return nil
		}, opts)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return handled.Load() == 1 && pendingCount(c, "orders", "proc") == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribePanicIsContained(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}

	mustAdd(t, c, "orders", "n", "x")

	var handled atomic.Int32
	sub, err := c.Subscribe(ctx, "orders", consumer, func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
		handled.Add(1)
		panic("handler exploded")
	}, fastSubOptions())
	require.NoError(t, err)
	defer sub.Close()

	// The panic becomes a handler error: the record stays pending and the
	// workers survive.
	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, pendingCount(c, "orders", "proc"))
	require.NoError(t, sub.Close())
}

func TestSubscribeMiddlewareWrapsHandler(t *testing.T) {
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	mw := func(next xstream.Handler[string, string, string]) xstream.Handler[string, string, string] {
		return func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
			mu.Lock()
			order = append(order, "mw")
			mu.Unlock()
			return next(ctx, rec)
		}
	}

	client, err := xstream.NewClientBuilder[string, string, string]().
		WithTransportInstance(memory.NewTransport(memory.Config{})).
		WithKeyCodec(xstream.String()).
		WithFieldCodec(xstream.String()).
		WithValueCodec(xstream.String()).
		WithMiddleware(mw).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	_, err = client.Add("orders", xstream.NewFieldMap[string, string]().Set("n", "x")).Await(ctx)
	require.NoError(t, err)

	done := make(chan struct{}, 1)
	sub, err := client.Subscribe(ctx, "orders", xstream.Consumer{Group: "proc", Name: "w"},
		func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
			mu.Lock()
			order = append(order, "handler")
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		}, fastSubOptions())
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"mw", "handler"}, order)
}

func TestSubscribeArgumentValidation(t *testing.T) {
	ctx := context.Background()
	c := newStringClient(t, memory.NewTransport(memory.Config{}))
	consumer := xstream.Consumer{Group: "proc", Name: "worker-1"}
	noop := func(ctx context.Context, rec *xstream.Record[string, string, string]) error { return nil }

	_, err := c.Subscribe(ctx, "orders", consumer, nil, nil)
	require.True(t, xstream.IsArgument(err))

	_, err = c.Subscribe(ctx, "orders", xstream.Consumer{Group: "proc"}, noop, nil)
	require.True(t, xstream.IsArgument(err))

	_, err = c.Subscribe(ctx, "orders", consumer, noop, &xstream.SubscribeOptions[string]{From: xstream.IDUndelivered})
	require.True(t, xstream.IsArgument(err))

	require.NoError(t, c.Close(ctx))
	_, err = c.Subscribe(ctx, "orders", consumer, noop, nil)
	require.ErrorIs(t, err, xstream.ErrClientClosed)
}

// stuckClaimTransport simulates a backend where group reads idle on the
// block window while a claim call is still in flight.
type stuckClaimTransport struct {
	xstream.Transport
	claimDelay time.Duration
}

func (tr *stuckClaimTransport) ReadGroup(ctx context.Context, args xstream.ReadGroupArgs) ([]xstream.RawStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (tr *stuckClaimTransport) Pending(ctx context.Context, args xstream.PendingArgs) ([]xstream.PendingRecord, error) {
	return []xstream.PendingRecord{
		{ID: xstream.NewID(1, 0), Consumer: "crashed-worker", Idle: time.Hour, Deliveries: 1},
	}, nil
}

func (tr *stuckClaimTransport) Claim(ctx context.Context, args xstream.ClaimArgs) ([]xstream.RawRecord, error) {
	time.Sleep(tr.claimDelay)
	return []xstream.RawRecord{
		{Key: args.Key, ID: xstream.NewID(1, 0), Fields: []xstream.RawField{{Key: []byte("n"), Value: []byte("1")}}},
	}, nil
}

func TestSubscribeCloseWhileClaimInFlight(t *testing.T) {
	// Closing while the claim loop is mid-claim must not crash: the work
	// channel stays open until every producer has exited.
	for i := 0; i < 30; i++ {
		tr := &stuckClaimTransport{
			Transport:  memory.NewTransport(memory.Config{}),
			claimDelay: 20 * time.Millisecond,
		}
		c := newStringClient(t, tr)

		opts := fastSubOptions()
		opts.ClaimMinIdle = time.Millisecond
		opts.ClaimInterval = time.Millisecond
		opts.ClaimBatch = 16

		sub, err := c.Subscribe(context.Background(), "orders",
			xstream.Consumer{Group: "proc", Name: "worker-1"},
			func(ctx context.Context, rec *xstream.Record[string, string, string]) error {
				return nil
			}, opts)
		require.NoError(t, err)

		// Let the claim loop start a claim, then shut down underneath it.
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, sub.Close())
	}
}
