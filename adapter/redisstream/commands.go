package redisstream

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xstream"
)

// Raw command builders and reply parsers for the record-returning
// commands. These bypass the typed client so that entry fields keep
// their wire order (the typed API returns them as a Go map).

// rangeBound renders a range bound, applying the server's "(" prefix
// syntax for exclusive bounds.
func rangeBound(id xstream.ID, exclusive bool) string {
	switch id {
	case xstream.IDRangeMin:
		return "-"
	case xstream.IDRangeMax:
		return "+"
	}
	if exclusive {
		return "(" + string(id)
	}
	return string(id)
}

func rangeCmd(args xstream.RangeArgs) []any {
	lo := rangeBound(args.Start, args.StartExclusive)
	hi := rangeBound(args.End, args.EndExclusive)

	cmd := make([]any, 0, 6)
	if args.Rev {
		cmd = append(cmd, "xrevrange", string(args.Key), hi, lo)
	} else {
		cmd = append(cmd, "xrange", string(args.Key), lo, hi)
	}
	if args.Count > 0 {
		cmd = append(cmd, "count", args.Count)
	}
	return cmd
}

func readCmd(args xstream.ReadArgs) []any {
	cmd := make([]any, 0, 6+2*len(args.Streams))
	cmd = append(cmd, "xread")
	if args.Count > 0 {
		cmd = append(cmd, "count", args.Count)
	}
	if args.Block > 0 {
		cmd = append(cmd, "block", blockMillis(args.Block))
	}
	cmd = append(cmd, "streams")
	for i := range args.Streams {
		cmd = append(cmd, string(args.Streams[i].Key))
	}
	for i := range args.Streams {
		cmd = append(cmd, string(args.Streams[i].From))
	}
	return cmd
}

func readGroupCmd(args xstream.ReadGroupArgs) []any {
	cmd := make([]any, 0, 10+2*len(args.Streams))
	cmd = append(cmd, "xreadgroup", "group", args.Group, args.Consumer)
	if args.Count > 0 {
		cmd = append(cmd, "count", args.Count)
	}
	if args.Block > 0 {
		cmd = append(cmd, "block", blockMillis(args.Block))
	}
	if args.NoAck {
		cmd = append(cmd, "noack")
	}
	cmd = append(cmd, "streams")
	for i := range args.Streams {
		cmd = append(cmd, string(args.Streams[i].Key))
	}
	for i := range args.Streams {
		cmd = append(cmd, string(args.Streams[i].From))
	}
	return cmd
}

func claimCmd(args xstream.ClaimArgs) []any {
	cmd := make([]any, 0, 5+len(args.IDs))
	cmd = append(cmd, "xclaim", string(args.Key), args.Group, args.Consumer, millis(args.MinIdle))
	for _, id := range args.IDs {
		cmd = append(cmd, string(id))
	}
	return cmd
}

// blockMillis never rounds a positive wait down to zero, which the
// server would treat as "block forever".
func blockMillis(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

func millis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Millisecond)
}

// parseStreams handles XREAD / XREADGROUP replies. RESP2 delivers an
// array of [name, entries] pairs in submission order; RESP3 delivers a
// map, whose iteration order is unspecified (only relevant for clients
// injected via NewTransportFromClient, NewTransport pins RESP2).
func parseStreams(v any) ([]xstream.RawStream, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]xstream.RawStream, 0, len(tv))
		for _, el := range tv {
			pair, ok := el.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("redisstream: unexpected stream element %T", el)
			}
			st, err := parseStream(bytesOf(pair[0]), pair[1])
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
		return out, nil
	case map[any]any:
		out := make([]xstream.RawStream, 0, len(tv))
		for k, entries := range tv {
			st, err := parseStream(bytesOf(k), entries)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
		return out, nil
	}
	return nil, fmt.Errorf("redisstream: unexpected streams reply %T", v)
}

func parseStream(key []byte, entries any) (xstream.RawStream, error) {
	recs, err := parseEntries(entries)
	if err != nil {
		return xstream.RawStream{}, err
	}
	for i := range recs {
		recs[i].Key = key
	}
	return xstream.RawStream{Key: key, Records: recs}, nil
}

// parseEntries handles XRANGE / XREVRANGE / XCLAIM replies. XCLAIM may
// emit nil in place of entries deleted from the stream; those are
// skipped.
func parseEntries(v any) ([]xstream.RawRecord, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]xstream.RawRecord, 0, len(tv))
		for _, el := range tv {
			if el == nil {
				continue
			}
			rec, err := parseEntry(el)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, fmt.Errorf("redisstream: unexpected entries reply %T", v)
}

func parseEntry(v any) (xstream.RawRecord, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return xstream.RawRecord{}, fmt.Errorf("redisstream: unexpected entry %T", v)
	}
	rec := xstream.RawRecord{ID: xstream.ID(asString(pair[0]))}
	if pair[1] == nil {
		return rec, nil
	}
	flat, ok := pair[1].([]any)
	if !ok {
		return xstream.RawRecord{}, fmt.Errorf("redisstream: unexpected field list %T", pair[1])
	}
	if len(flat)%2 != 0 {
		return xstream.RawRecord{}, fmt.Errorf("redisstream: odd field list length %d", len(flat))
	}
	rec.Fields = make([]xstream.RawField, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		rec.Fields = append(rec.Fields, xstream.RawField{
			Key:   bytesOf(flat[i]),
			Value: bytesOf(flat[i+1]),
		})
	}
	return rec, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func bytesOf(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", b))
	}
}
