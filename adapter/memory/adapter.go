package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xstream"
)

const TransportName = "memory"

func init() {
	if err := xstream.RegisterTransport(TransportName, func(cfg map[string]any) (xstream.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xstream/memory: failed to register transport: %w", err))
	}
}

// Config controls memory transport behavior.
type Config struct {
	// Clock supplies record id timestamps and idle measurements
	// (default: xclock.Default()). Injecting a fake clock makes id
	// generation and claim idling deterministic in tests.
	Clock xclock.Clock
}

func ConfigFromMap(cfg map[string]any) Config {
	var c Config
	if v, ok := cfg["clock"].(xclock.Clock); ok {
		c.Clock = v
	}
	return c
}

var errClosed = errors.New("memory transport is closed")

// Transport implements xstream.Transport as an in-process stream log
// with consumer groups and per-group pending lists (dev/testing).
// Not suitable for production but excellent for local development and
// deterministic tests.
//
// Deviations from a real server, chosen for simplicity: trimming is
// always exact (approx is ignored), and consumer-group history replay
// skips entries that were deleted from the stream instead of returning
// tombstones.
type Transport struct {
	clock xclock.Clock

	mu      sync.RWMutex
	streams map[string]*stream

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	added   atomic.Uint64
	read    atomic.Uint64
	acked   atomic.Uint64
	claimed atomic.Uint64
	deleted atomic.Uint64
	trimmed atomic.Uint64
}

var _ xstream.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	clk := cfg.Clock
	if clk == nil {
		clk = xclock.Default()
	}
	return &Transport{
		clock:   clk,
		streams: make(map[string]*stream),
		metrics: &transportMetrics{},
	}
}

// Internal types

type stream struct {
	mu      sync.Mutex
	entries []entry // ascending id order
	lastID  xstream.ID
	groups  map[string]*group

	// updated is closed and replaced on every append; blocked readers
	// snapshot it to learn about new entries.
	updated chan struct{}
}

type entry struct {
	id     xstream.ID
	fields []xstream.RawField
}

type group struct {
	lastDelivered xstream.ID
	pel           map[xstream.ID]*pendingEntry
}

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

func (t *Transport) Add(ctx context.Context, args xstream.AddArgs) (xstream.ID, error) {
	if t.closed.Load() {
		return "", errClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	st := t.ensureStream(string(args.Key))
	st.mu.Lock()
	defer st.mu.Unlock()

	var id xstream.ID
	if args.ID == "" || args.ID == xstream.IDAuto {
		id = st.nextID(t.clock.Now())
	} else {
		ms, seq, ok := args.ID.Parts()
		if !ok {
			return "", fmt.Errorf("memory: invalid entry id %q", args.ID)
		}
		id = xstream.NewID(ms, seq) // canonical form keys the pending lists
		if st.lastID != "" && id.Compare(st.lastID) <= 0 {
			return "", fmt.Errorf("memory: id %s is equal or smaller than the stream top item %s", id, st.lastID)
		}
	}

	st.entries = append(st.entries, entry{id: id, fields: args.Fields})
	st.lastID = id

	if args.MaxLen > 0 && int64(len(st.entries)) > args.MaxLen {
		evict := int64(len(st.entries)) - args.MaxLen
		st.entries = append(st.entries[:0:0], st.entries[evict:]...)
		t.metrics.trimmed.Add(uint64(evict))
	}

	close(st.updated)
	st.updated = make(chan struct{})

	t.metrics.added.Add(1)
	return id, nil
}

func (t *Transport) Delete(ctx context.Context, key []byte, ids []xstream.ID) (int64, error) {
	if t.closed.Load() {
		return 0, errClosed
	}
	st := t.getStream(string(key))
	if st == nil {
		return 0, nil
	}

	drop := make(map[xstream.ID]struct{}, len(ids))
	for _, id := range ids {
		if ms, seq, ok := id.Parts(); ok {
			drop[xstream.NewID(ms, seq)] = struct{}{}
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var n int64
	kept := st.entries[:0]
	for _, e := range st.entries {
		if _, gone := drop[e.id]; gone {
			n++
			continue
		}
		kept = append(kept, e)
	}
	st.entries = kept
	t.metrics.deleted.Add(uint64(n))
	return n, nil
}

func (t *Transport) Len(ctx context.Context, key []byte) (int64, error) {
	if t.closed.Load() {
		return 0, errClosed
	}
	st := t.getStream(string(key))
	if st == nil {
		return 0, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.entries)), nil
}

func (t *Transport) Trim(ctx context.Context, key []byte, maxLen int64, approx bool) (int64, error) {
	if t.closed.Load() {
		return 0, errClosed
	}
	st := t.getStream(string(key))
	if st == nil {
		return 0, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if int64(len(st.entries)) <= maxLen {
		return 0, nil
	}
	evict := int64(len(st.entries)) - maxLen
	st.entries = append(st.entries[:0:0], st.entries[evict:]...)
	t.metrics.trimmed.Add(uint64(evict))
	return evict, nil
}

func (t *Transport) Range(ctx context.Context, args xstream.RangeArgs) ([]xstream.RawRecord, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	st := t.getStream(string(args.Key))
	if st == nil {
		return nil, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	lo := 0
	if args.Start != xstream.IDRangeMin {
		if args.StartExclusive {
			lo = st.searchAfter(args.Start)
		} else {
			lo = st.searchAtOrAfter(args.Start)
		}
	}
	hi := len(st.entries)
	if args.End != xstream.IDRangeMax {
		if args.EndExclusive {
			hi = st.searchAtOrAfter(args.End)
		} else {
			hi = st.searchAfter(args.End)
		}
	}
	if lo >= hi {
		return nil, nil
	}

	window := st.entries[lo:hi]
	out := make([]xstream.RawRecord, 0, len(window))
	if args.Rev {
		for i := len(window) - 1; i >= 0; i-- {
			out = append(out, xstream.RawRecord{Key: args.Key, ID: window[i].id, Fields: window[i].fields})
			if args.Count > 0 && int64(len(out)) >= args.Count {
				break
			}
		}
	} else {
		for i := range window {
			out = append(out, xstream.RawRecord{Key: args.Key, ID: window[i].id, Fields: window[i].fields})
			if args.Count > 0 && int64(len(out)) >= args.Count {
				break
			}
		}
	}
	t.metrics.read.Add(uint64(len(out)))
	return out, nil
}

func (t *Transport) Read(ctx context.Context, args xstream.ReadArgs) ([]xstream.RawStream, error) {
	if t.closed.Load() {
		return nil, errClosed
	}

	// "$" resolves to each stream's tail once, at call start; entries
	// appended during the block window are then strictly after it.
	froms := make([]xstream.ID, len(args.Streams))
	for i, off := range args.Streams {
		from := off.From
		if from == xstream.IDLatest {
			from = t.tailOf(string(off.Key))
		}
		froms[i] = from
	}

	var timer *time.Timer
	for {
		if t.closed.Load() {
			return nil, errClosed
		}
		streams, chans := t.collectAfter(args.Streams, froms, args.Count)
		if len(streams) > 0 {
			return streams, nil
		}
		if args.Block <= 0 {
			return nil, nil
		}
		if timer == nil {
			timer = time.NewTimer(args.Block)
			defer timer.Stop()
		}
		woke, err := awaitAppend(ctx, chans, timer)
		if err != nil {
			return nil, err
		}
		if !woke {
			return nil, nil
		}
	}
}

func (t *Transport) ReadGroup(ctx context.Context, args xstream.ReadGroupArgs) ([]xstream.RawStream, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	for _, off := range args.Streams {
		if !t.hasGroup(string(off.Key), args.Group) {
			return nil, noGroupErr(string(off.Key), args.Group)
		}
	}

	// Only the undelivered form waits for new entries; history replay
	// answers from the pending list immediately.
	blockable := true
	for _, off := range args.Streams {
		if off.From != xstream.IDUndelivered {
			blockable = false
			break
		}
	}

	var timer *time.Timer
	for {
		if t.closed.Load() {
			return nil, errClosed
		}
		streams, chans, err := t.collectGroup(args)
		if err != nil {
			return nil, err
		}
		if len(streams) > 0 {
			return streams, nil
		}
		if !blockable || args.Block <= 0 {
			return nil, nil
		}
		if timer == nil {
			timer = time.NewTimer(args.Block)
			defer timer.Stop()
		}
		woke, err := awaitAppend(ctx, chans, timer)
		if err != nil {
			return nil, err
		}
		if !woke {
			return nil, nil
		}
	}
}

func (t *Transport) Ack(ctx context.Context, key []byte, group string, ids []xstream.ID) (int64, error) {
	if t.closed.Load() {
		return 0, errClosed
	}
	st := t.getStream(string(key))
	if st == nil {
		return 0, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	g := st.groups[group]
	if g == nil {
		return 0, nil
	}
	var n int64
	for _, id := range ids {
		ms, seq, ok := id.Parts()
		if !ok {
			continue
		}
		cid := xstream.NewID(ms, seq)
		if _, pending := g.pel[cid]; pending {
			delete(g.pel, cid)
			n++
		}
	}
	t.metrics.acked.Add(uint64(n))
	return n, nil
}

func (t *Transport) EnsureGroup(ctx context.Context, key []byte, groupName string, from xstream.ID) (bool, error) {
	if t.closed.Load() {
		return false, errClosed
	}
	st := t.ensureStream(string(key))
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.groups[groupName]; exists {
		return false, nil
	}
	last := from
	switch from {
	case xstream.IDLatest:
		last = st.lastID
		if last == "" {
			last = xstream.NewID(0, 0)
		}
	case xstream.IDStart:
		last = xstream.NewID(0, 0)
	}
	st.groups[groupName] = &group{
		lastDelivered: last,
		pel:           make(map[xstream.ID]*pendingEntry),
	}
	return true, nil
}

func (t *Transport) DestroyGroup(ctx context.Context, key []byte, group string) (bool, error) {
	if t.closed.Load() {
		return false, errClosed
	}
	st := t.getStream(string(key))
	if st == nil {
		return false, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.groups[group]; !exists {
		return false, nil
	}
	delete(st.groups, group)
	return true, nil
}

func (t *Transport) Pending(ctx context.Context, args xstream.PendingArgs) ([]xstream.PendingRecord, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	st := t.getStream(string(args.Key))
	if st == nil {
		return nil, noGroupErr(string(args.Key), args.Group)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	g := st.groups[args.Group]
	if g == nil {
		return nil, noGroupErr(string(args.Key), args.Group)
	}

	ids := make([]xstream.ID, 0, len(g.pel))
	for id := range g.pel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })

	now := t.clock.Now()
	var out []xstream.PendingRecord
	for _, id := range ids {
		if !inRange(id, args.Start, args.End, args.StartExclusive, args.EndExclusive) {
			continue
		}
		pe := g.pel[id]
		idle := now.Sub(pe.deliveredAt)
		if args.MinIdle > 0 && idle < args.MinIdle {
			continue
		}
		if args.Consumer != "" && pe.consumer != args.Consumer {
			continue
		}
		out = append(out, xstream.PendingRecord{
			ID:         id,
			Consumer:   pe.consumer,
			Idle:       idle,
			Deliveries: pe.deliveries,
		})
		if args.Count > 0 && int64(len(out)) >= args.Count {
			break
		}
	}
	return out, nil
}

func (t *Transport) Claim(ctx context.Context, args xstream.ClaimArgs) ([]xstream.RawRecord, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	st := t.getStream(string(args.Key))
	if st == nil {
		return nil, noGroupErr(string(args.Key), args.Group)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	g := st.groups[args.Group]
	if g == nil {
		return nil, noGroupErr(string(args.Key), args.Group)
	}

	now := t.clock.Now()
	var out []xstream.RawRecord
	for _, id := range args.IDs {
		ms, seq, ok := id.Parts()
		if !ok {
			continue
		}
		cid := xstream.NewID(ms, seq)
		pe, pending := g.pel[cid]
		if !pending {
			continue
		}
		if now.Sub(pe.deliveredAt) < args.MinIdle {
			continue
		}
		e, exists := st.entryByID(cid)
		if !exists {
			// Deleted entries cannot be claimed; drop them from the
			// pending list.
			delete(g.pel, cid)
			continue
		}
		pe.consumer = args.Consumer
		pe.deliveredAt = now
		pe.deliveries++
		out = append(out, xstream.RawRecord{Key: args.Key, ID: cid, Fields: e.fields})
	}
	t.metrics.claimed.Add(uint64(len(out)))
	return out, nil
}

// Close gracefully shuts down the transport. Blocked readers finish
// their block window and return empty.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.streams = make(map[string]*stream)
	t.mu.Unlock()
	return nil
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Added   uint64
	Read    uint64
	Acked   uint64
	Claimed uint64
	Deleted uint64
	Trimmed uint64
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Added:   t.metrics.added.Load(),
		Read:    t.metrics.read.Load(),
		Acked:   t.metrics.acked.Load(),
		Claimed: t.metrics.claimed.Load(),
		Deleted: t.metrics.deleted.Load(),
		Trimmed: t.metrics.trimmed.Load(),
	}
}

// Helper functions

func (t *Transport) ensureStream(name string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.streams[name]; ok {
		return st
	}
	st := &stream{
		groups:  make(map[string]*group),
		updated: make(chan struct{}),
	}
	t.streams[name] = st
	return st
}

func (t *Transport) getStream(name string) *stream {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streams[name]
}

func (t *Transport) hasGroup(name, group string) bool {
	st := t.getStream(name)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.groups[group]
	return ok
}

func (t *Transport) tailOf(name string) xstream.ID {
	st := t.getStream(name)
	if st == nil {
		return xstream.NewID(0, 0)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastID == "" {
		return xstream.NewID(0, 0)
	}
	return st.lastID
}

// collectAfter gathers entries strictly after each offset, capped per
// stream, and snapshots every stream's update channel for blocking.
func (t *Transport) collectAfter(offsets []xstream.RawOffset, froms []xstream.ID, count int64) ([]xstream.RawStream, []<-chan struct{}) {
	var streams []xstream.RawStream
	chans := make([]<-chan struct{}, 0, len(offsets))

	for i, off := range offsets {
		st := t.ensureStream(string(off.Key))
		st.mu.Lock()

		var recs []xstream.RawRecord
		for j := st.searchAfter(froms[i]); j < len(st.entries); j++ {
			recs = append(recs, xstream.RawRecord{Key: off.Key, ID: st.entries[j].id, Fields: st.entries[j].fields})
			if count > 0 && int64(len(recs)) >= count {
				break
			}
		}
		chans = append(chans, st.updated)
		st.mu.Unlock()

		if len(recs) > 0 {
			t.metrics.read.Add(uint64(len(recs)))
			streams = append(streams, xstream.RawStream{Key: off.Key, Records: recs})
		}
	}
	return streams, chans
}

func (t *Transport) collectGroup(args xstream.ReadGroupArgs) ([]xstream.RawStream, []<-chan struct{}, error) {
	var streams []xstream.RawStream
	chans := make([]<-chan struct{}, 0, len(args.Streams))

	for _, off := range args.Streams {
		st := t.getStream(string(off.Key))
		if st == nil {
			return nil, nil, noGroupErr(string(off.Key), args.Group)
		}
		st.mu.Lock()
		g := st.groups[args.Group]
		if g == nil {
			st.mu.Unlock()
			return nil, nil, noGroupErr(string(off.Key), args.Group)
		}

		var recs []xstream.RawRecord
		if off.From == xstream.IDUndelivered {
			now := t.clock.Now()
			for j := st.searchAfter(g.lastDelivered); j < len(st.entries); j++ {
				e := st.entries[j]
				recs = append(recs, xstream.RawRecord{Key: off.Key, ID: e.id, Fields: e.fields})
				g.lastDelivered = e.id
				if !args.NoAck {
					g.pel[e.id] = &pendingEntry{consumer: args.Consumer, deliveredAt: now, deliveries: 1}
				}
				if args.Count > 0 && int64(len(recs)) >= args.Count {
					break
				}
			}
		} else {
			// History replay: this consumer's own pending entries after
			// the offset, without touching delivery counters.
			for j := st.searchAfter(off.From); j < len(st.entries); j++ {
				e := st.entries[j]
				pe, pending := g.pel[e.id]
				if !pending || pe.consumer != args.Consumer {
					continue
				}
				recs = append(recs, xstream.RawRecord{Key: off.Key, ID: e.id, Fields: e.fields})
				if args.Count > 0 && int64(len(recs)) >= args.Count {
					break
				}
			}
		}
		chans = append(chans, st.updated)
		st.mu.Unlock()

		if len(recs) > 0 {
			t.metrics.read.Add(uint64(len(recs)))
			streams = append(streams, xstream.RawStream{Key: off.Key, Records: recs})
		}
	}
	return streams, chans, nil
}

// awaitAppend waits for any watched stream to append. It reports false
// when the block window elapsed without an append.
func awaitAppend(ctx context.Context, chans []<-chan struct{}, timer *time.Timer) (bool, error) {
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	for _, ch := range chans {
		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-done:
			}
		}(ch)
	}

	select {
	case <-wake:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (st *stream) nextID(now time.Time) xstream.ID {
	ms := uint64(now.UnixMilli())
	lastMs, lastSeq, ok := st.lastID.Parts()
	if ok && ms <= lastMs {
		return xstream.NewID(lastMs, lastSeq+1)
	}
	return xstream.NewID(ms, 0)
}

// searchAfter returns the first index whose id is strictly greater.
func (st *stream) searchAfter(id xstream.ID) int {
	return sort.Search(len(st.entries), func(i int) bool { return st.entries[i].id.Compare(id) > 0 })
}

// searchAtOrAfter returns the first index whose id is greater or equal.
func (st *stream) searchAtOrAfter(id xstream.ID) int {
	return sort.Search(len(st.entries), func(i int) bool { return st.entries[i].id.Compare(id) >= 0 })
}

func (st *stream) entryByID(id xstream.ID) (entry, bool) {
	i := st.searchAtOrAfter(id)
	if i < len(st.entries) && st.entries[i].id.Compare(id) == 0 {
		return st.entries[i], true
	}
	return entry{}, false
}

func inRange(id, start, end xstream.ID, startExclusive, endExclusive bool) bool {
	if start != xstream.IDRangeMin {
		c := id.Compare(start)
		if c < 0 || (startExclusive && c == 0) {
			return false
		}
	}
	if end != xstream.IDRangeMax {
		c := id.Compare(end)
		if c > 0 || (endExclusive && c == 0) {
			return false
		}
	}
	return true
}

func noGroupErr(key, group string) error {
	return fmt.Errorf("NOGROUP no such consumer group '%s' for key name '%s'", group, key)
}
