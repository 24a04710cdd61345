package xstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Subscription is a handle to a running consumer-group subscription.
// Close stops polling, waits for in-flight handlers, and is idempotent.
type Subscription interface {
	Close() error
}

// SubscribeOptions tunes a Subscribe call. The zero value of any field
// means "use the default"; passing a nil *SubscribeOptions uses all
// defaults.
type SubscribeOptions[K any] struct {
	// Count caps records fetched per poll. Default 128.
	Count int64

	// Block bounds how long each poll waits for new records. Default 5s.
	Block time.Duration

	// Concurrency is the number of handler workers. Default 8.
	Concurrency int

	// From sets the group start position when the group is auto-created.
	// Default IDLatest.
	From ID

	// DisableAutoCreate skips group creation; the group must already
	// exist or the subscription fails on its first poll.
	DisableAutoCreate bool

	// DeadLetter, when set, receives records whose handler failed (and
	// records that could not be decoded); the original is then
	// acknowledged to stop redelivery. When unset, failed records stay
	// pending for the group's redelivery machinery.
	DeadLetter *K

	// ClaimMinIdle enables the pending-claim loop: records left pending
	// by other consumers for at least this long are claimed and
	// redelivered to this subscription's handler. Zero disables claiming.
	ClaimMinIdle time.Duration

	// ClaimInterval is how often the claim loop scans. Default 15s.
	ClaimInterval time.Duration

	// ClaimBatch caps pending entries claimed per scan. Default 128.
	ClaimBatch int64
}

func (o *SubscribeOptions[K]) resolved() SubscribeOptions[K] {
	out := SubscribeOptions[K]{
		Count:         128,
		Block:         5 * time.Second,
		Concurrency:   8,
		From:          IDLatest,
		ClaimInterval: 15 * time.Second,
		ClaimBatch:    128,
	}
	if o == nil {
		return out
	}
	if o.Count > 0 {
		out.Count = o.Count
	}
	if o.Block > 0 {
		out.Block = o.Block
	}
	if o.Concurrency > 0 {
		out.Concurrency = o.Concurrency
	}
	if o.From != "" {
		out.From = o.From
	}
	out.DisableAutoCreate = o.DisableAutoCreate
	out.DeadLetter = o.DeadLetter
	out.ClaimMinIdle = o.ClaimMinIdle
	if o.ClaimInterval > 0 {
		out.ClaimInterval = o.ClaimInterval
	}
	if o.ClaimBatch > 0 {
		out.ClaimBatch = o.ClaimBatch
	}
	return out
}

// Subscribe runs handler for every record delivered to consumer on the
// stream at key, using a pool of workers. Unless DisableAutoCreate is
// set, the consumer group is created first (starting at opts.From).
//
// A record whose handler returns nil is acknowledged. On handler error
// the record is dead-lettered and acknowledged when opts.DeadLetter is
// set, otherwise left pending. Handler panics are converted to errors
// before that choice is made.
//
// The subscription stops when ctx is canceled, the client is closed, or
// Close is called on the returned Subscription.
func (c *Client[K, F, V]) Subscribe(ctx context.Context, key K, consumer Consumer, handler Handler[K, F, V], opts *SubscribeOptions[K]) (Subscription, error) {
	const op = "subscribe"

	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if handler == nil {
		return nil, argErr(op, "handler must not be nil")
	}
	if err := checkConsumer(op, consumer); err != nil {
		return nil, err
	}

	o := opts.resolved()
	if o.From != IDStart && o.From != IDLatest && !o.From.IsConcrete() {
		return nil, argErrf(op, "start id %q is not valid for a group", o.From)
	}
	if o.ClaimMinIdle < 0 {
		return nil, argErrf(op, "claim min idle must be >= 0, got %v", o.ClaimMinIdle)
	}

	rawKey, err := c.keyCodec.Encode(key)
	if err != nil {
		return nil, argErrf(op, "encode key (%s): %v", c.keyCodec.Name(), err)
	}
	var deadLetter []byte
	if o.DeadLetter != nil {
		deadLetter, err = c.keyCodec.Encode(*o.DeadLetter)
		if err != nil {
			return nil, argErrf(op, "encode dead-letter key (%s): %v", c.keyCodec.Name(), err)
		}
	}

	if !o.DisableAutoCreate {
		if _, err := c.transport.EnsureGroup(ctx, rawKey, consumer.Group, o.From); err != nil {
			return nil, err
		}
	}

	s := &subscriber[K, F, V]{
		c:          c,
		key:        key,
		rawKey:     rawKey,
		label:      keyString(key),
		consumer:   consumer,
		opts:       o,
		deadLetter: deadLetter,
		handler:    Chain(handler, append([]Middleware[K, F, V]{RecoveryMiddleware[K, F, V]()}, c.middlewares...)...),
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	workCh := make(chan subDelivery[K, F, V], o.Concurrency*2)

	for i := 0; i < o.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range workCh {
				s.handle(innerCtx, d)
			}
		}()
	}

	// The poll loop and the claim loop both feed workCh; it closes only
	// after the last producer has exited, so a claim finishing during
	// shutdown never sends on a closed channel.
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		s.poll(innerCtx, workCh)
	}()

	if o.ClaimMinIdle > 0 && o.ClaimInterval > 0 && o.ClaimBatch > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			s.claimLoop(innerCtx, workCh)
		}()
	}

	producersDone := make(chan struct{})
	go func() {
		producers.Wait()
		close(workCh)
		close(producersDone)
	}()

	c.logger.Debug().
		Str("stream", s.label).
		Str("group", consumer.Group).
		Str("consumer", consumer.Name).
		Msg("xstream: subscription started")

	var closeOnce sync.Once
	return &subscription{
		close: func() error {
			closeOnce.Do(func() {
				cancel()
				<-producersDone
				wg.Wait()
				c.logger.Debug().
					Str("stream", s.label).
					Str("group", consumer.Group).
					Msg("xstream: subscription closed")
			})
			return nil
		},
	}, nil
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// subDelivery carries one decoded record through the work channel,
// keeping the raw form around for dead-lettering.
type subDelivery[K any, F comparable, V any] struct {
	rec *Record[K, F, V]
	raw RawRecord
}

type subscriber[K any, F comparable, V any] struct {
	c          *Client[K, F, V]
	key        K
	rawKey     []byte
	label      string
	consumer   Consumer
	opts       SubscribeOptions[K]
	deadLetter []byte
	handler    Handler[K, F, V]
}

func (s *subscriber[K, F, V]) poll(ctx context.Context, workCh chan<- subDelivery[K, F, V]) {
	args := ReadGroupArgs{
		Group:    s.consumer.Group,
		Consumer: s.consumer.Name,
		Streams:  []RawOffset{{Key: s.rawKey, From: IDUndelivered}},
		Count:    s.opts.Count,
		Block:    s.opts.Block,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.c.closed.Load() {
			return
		}

		streams, err := s.c.transport.ReadGroup(ctx, args)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.c.metrics.errorCount.Add(1)
			s.c.notifyAsync(Event{
				Type:   EventError,
				Op:     "subscribe",
				Stream: s.label,
				Group:  s.consumer.Group,
				Err:    err,
			})
			s.c.logger.Warn().
				Str("stream", s.label).
				Str("group", s.consumer.Group).
				Err(err).
				Msg("xstream: subscription poll failed")
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		for i := range streams {
			if !s.dispatch(ctx, workCh, streams[i].Records) {
				return
			}
		}
	}
}

func (s *subscriber[K, F, V]) claimLoop(ctx context.Context, workCh chan<- subDelivery[K, F, V]) {
	ticker := time.NewTicker(s.opts.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := s.c.transport.Pending(ctx, PendingArgs{
			Key:     s.rawKey,
			Group:   s.consumer.Group,
			Start:   IDRangeMin,
			End:     IDRangeMax,
			Count:   s.opts.ClaimBatch,
			MinIdle: s.opts.ClaimMinIdle,
		})
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]ID, 0, len(pending))
		for i := range pending {
			ids = append(ids, pending[i].ID)
		}
		claimed, err := s.c.transport.Claim(ctx, ClaimArgs{
			Key:      s.rawKey,
			Group:    s.consumer.Group,
			Consumer: s.consumer.Name,
			MinIdle:  s.opts.ClaimMinIdle,
			IDs:      ids,
		})
		if err != nil {
			continue
		}
		if !s.dispatch(ctx, workCh, claimed) {
			return
		}
	}
}

// dispatch decodes raw records and hands them to the workers. Records
// that fail to decode never reach the handler; they are dead-lettered
// when configured and otherwise left pending.
func (s *subscriber[K, F, V]) dispatch(ctx context.Context, workCh chan<- subDelivery[K, F, V], raws []RawRecord) bool {
	for _, raw := range raws {
		rec, err := decodeRecord(s.c, s.key, raw)
		if err != nil {
			s.c.metrics.errorCount.Add(1)
			s.c.notifyAsync(Event{
				Type:     EventError,
				Op:       "subscribe",
				Stream:   s.label,
				Group:    s.consumer.Group,
				Consumer: s.consumer.Name,
				RecordID: raw.ID,
				Err:      err,
			})
			s.c.logger.Warn().
				Str("stream", s.label).
				Str("group", s.consumer.Group).
				Str("record_id", raw.ID.String()).
				Err(err).
				Msg("xstream: dropping undecodable record")
			if s.deadLetter != nil {
				s.toDeadLetter(ctx, raw, err)
			}
			continue
		}
		s.c.metrics.recordsIn.Add(1)
		select {
		case workCh <- subDelivery[K, F, V]{rec: rec, raw: raw}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *subscriber[K, F, V]) handle(ctx context.Context, d subDelivery[K, F, V]) {
	c := s.c
	c.notifyAsync(Event{
		Type:     EventConsumeStart,
		Op:       "subscribe",
		Stream:   s.label,
		Group:    s.consumer.Group,
		Consumer: s.consumer.Name,
		RecordID: d.rec.ID,
	})

	start := c.clock.Now()
	err := s.handler(ctx, d.rec)
	dur := c.clock.Since(start)
	c.recordProcessingTime(dur.Nanoseconds())

	if err != nil {
		c.metrics.errorCount.Add(1)
		c.notifyAsync(Event{
			Type:     EventNack,
			Op:       "subscribe",
			Stream:   s.label,
			Group:    s.consumer.Group,
			Consumer: s.consumer.Name,
			RecordID: d.rec.ID,
			Duration: dur,
			Err:      err,
		})
		if s.deadLetter != nil {
			s.toDeadLetter(ctx, d.raw, err)
		}
		return
	}

	c.notifyAsync(Event{
		Type:     EventConsumeDone,
		Op:       "subscribe",
		Stream:   s.label,
		Group:    s.consumer.Group,
		Consumer: s.consumer.Name,
		RecordID: d.rec.ID,
		Duration: dur,
	})
	s.ack(ctx, d.rec.ID)
}

// toDeadLetter forwards the raw record to the dead-letter stream and
// acknowledges the original so it cannot poison the group.
func (s *subscriber[K, F, V]) toDeadLetter(ctx context.Context, raw RawRecord, reason error) {
	c := s.c
	fields := make([]RawField, 0, len(raw.Fields)+3)
	fields = append(fields,
		RawField{Key: []byte("orig_stream"), Value: s.rawKey},
		RawField{Key: []byte("orig_id"), Value: []byte(raw.ID)},
		RawField{Key: []byte("error"), Value: []byte(reason.Error())},
	)
	fields = append(fields, raw.Fields...)

	if _, err := c.transport.Add(ctx, AddArgs{Key: s.deadLetter, ID: IDAuto, Fields: fields}); err != nil {
		c.logger.Error().
			Str("stream", s.label).
			Str("record_id", raw.ID.String()).
			Err(err).
			Msg("xstream: dead-letter write failed, leaving record pending")
		return
	}
	s.ack(ctx, raw.ID)
}

func (s *subscriber[K, F, V]) ack(ctx context.Context, id ID) {
	c := s.c
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ackTimeout)
	defer cancel()

	if _, err := c.transport.Ack(ackCtx, s.rawKey, s.consumer.Group, []ID{id}); err != nil {
		c.metrics.errorCount.Add(1)
		c.notifyAsync(Event{
			Type:     EventError,
			Op:       "ack",
			Stream:   s.label,
			Group:    s.consumer.Group,
			Consumer: s.consumer.Name,
			RecordID: id,
			Err:      err,
		})
		c.logger.Warn().
			Str("stream", s.label).
			Str("group", s.consumer.Group).
			Str("record_id", id.String()).
			Err(err).
			Msg("xstream: ack failed")
		return
	}
	c.metrics.ackCount.Add(1)
	c.notifyAsync(Event{
		Type:     EventAck,
		Op:       "ack",
		Stream:   s.label,
		Group:    s.consumer.Group,
		Consumer: s.consumer.Name,
		RecordID: id,
	})
}
