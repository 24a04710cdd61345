package redisstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xstream"
)

func TestRangeBound(t *testing.T) {
	cases := []struct {
		name      string
		id        xstream.ID
		exclusive bool
		want      string
	}{
		{"min sentinel", xstream.IDRangeMin, false, "-"},
		{"max sentinel", xstream.IDRangeMax, false, "+"},
		{"min sentinel ignores exclusive", xstream.IDRangeMin, true, "-"},
		{"concrete inclusive", "5-1", false, "5-1"},
		{"concrete exclusive", "5-1", true, "(5-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, rangeBound(tc.id, tc.exclusive))
		})
	}
}

func TestRangeCmd(t *testing.T) {
	args := xstream.RangeArgs{
		Key:   []byte("orders"),
		Start: xstream.IDRangeMin,
		End:   xstream.IDRangeMax,
	}
	require.Equal(t, []any{"xrange", "orders", "-", "+"}, rangeCmd(args))

	args.Count = 10
	require.Equal(t, []any{"xrange", "orders", "-", "+", "count", int64(10)}, rangeCmd(args))

	// Reverse traversal swaps the bound positions: hi comes first.
	rev := xstream.RangeArgs{
		Key:            []byte("orders"),
		Start:          "1-0",
		End:            "9-0",
		StartExclusive: true,
		Rev:            true,
	}
	require.Equal(t, []any{"xrevrange", "orders", "9-0", "(1-0"}, rangeCmd(rev))
}

func TestReadCmd(t *testing.T) {
	args := xstream.ReadArgs{
		Streams: []xstream.RawOffset{
			{Key: []byte("a"), From: "0"},
			{Key: []byte("b"), From: "$"},
		},
	}
	require.Equal(t, []any{"xread", "streams", "a", "b", "0", "$"}, readCmd(args))

	args.Count = 5
	args.Block = 1500 * time.Millisecond
	require.Equal(t,
		[]any{"xread", "count", int64(5), "block", int64(1500), "streams", "a", "b", "0", "$"},
		readCmd(args))
}

func TestReadGroupCmd(t *testing.T) {
	args := xstream.ReadGroupArgs{
		Group:    "billing",
		Consumer: "worker-1",
		Streams:  []xstream.RawOffset{{Key: []byte("orders"), From: ">"}},
	}
	require.Equal(t,
		[]any{"xreadgroup", "group", "billing", "worker-1", "streams", "orders", ">"},
		readGroupCmd(args))

	args.Count = 8
	args.Block = 2 * time.Second
	args.NoAck = true
	require.Equal(t,
		[]any{"xreadgroup", "group", "billing", "worker-1", "count", int64(8), "block", int64(2000), "noack", "streams", "orders", ">"},
		readGroupCmd(args))
}

func TestClaimCmd(t *testing.T) {
	args := xstream.ClaimArgs{
		Key:      []byte("orders"),
		Group:    "billing",
		Consumer: "worker-2",
		MinIdle:  30 * time.Second,
		IDs:      []xstream.ID{"1-0", "2-0"},
	}
	require.Equal(t,
		[]any{"xclaim", "orders", "billing", "worker-2", int64(30000), "1-0", "2-0"},
		claimCmd(args))
}

func TestBlockMillisNeverRoundsToForever(t *testing.T) {
	// A block of zero means "wait forever" on the server, so a positive
	// wait must never round down to it.
	require.Equal(t, int64(1), blockMillis(100*time.Microsecond))
	require.Equal(t, int64(1), blockMillis(time.Millisecond))
	require.Equal(t, int64(1500), blockMillis(1500*time.Millisecond))
}

func TestMillis(t *testing.T) {
	require.Equal(t, int64(0), millis(0))
	require.Equal(t, int64(0), millis(-time.Second))
	require.Equal(t, int64(30000), millis(30*time.Second))
}

func TestParseStreamsArrayForm(t *testing.T) {
	reply := []any{
		[]any{"a", []any{
			[]any{"1-0", []any{"f1", "v1", "f2", "v2"}},
		}},
		[]any{"b", []any{
			[]any{"2-0", []any{"g", "w"}},
		}},
	}

	streams, err := parseStreams(reply)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	require.Equal(t, "a", string(streams[0].Key))
	require.Len(t, streams[0].Records, 1)
	rec := streams[0].Records[0]
	require.Equal(t, xstream.ID("1-0"), rec.ID)
	require.Equal(t, "a", string(rec.Key))
	require.Len(t, rec.Fields, 2)
	require.Equal(t, "f1", string(rec.Fields[0].Key))
	require.Equal(t, "v1", string(rec.Fields[0].Value))
	require.Equal(t, "f2", string(rec.Fields[1].Key))

	require.Equal(t, "b", string(streams[1].Key))
}

func TestParseStreamsMapForm(t *testing.T) {
	reply := map[any]any{
		"a": []any{
			[]any{"1-0", []any{"f", "v"}},
		},
	}

	streams, err := parseStreams(reply)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, "a", string(streams[0].Key))
	require.Equal(t, xstream.ID("1-0"), streams[0].Records[0].ID)
}

func TestParseStreamsNilAndErrors(t *testing.T) {
	streams, err := parseStreams(nil)
	require.NoError(t, err)
	require.Nil(t, streams)

	_, err = parseStreams("bogus")
	require.Error(t, err)

	_, err = parseStreams([]any{[]any{"only-name"}})
	require.Error(t, err)
}

func TestParseEntriesSkipsTombstones(t *testing.T) {
	// XCLAIM emits nil for entries deleted from the stream.
	reply := []any{
		[]any{"1-0", []any{"f", "v"}},
		nil,
		[]any{"3-0", []any{"g", "w"}},
	}

	recs, err := parseEntries(reply)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, xstream.ID("1-0"), recs[0].ID)
	require.Equal(t, xstream.ID("3-0"), recs[1].ID)
}

func TestParseEntriesErrors(t *testing.T) {
	_, err := parseEntries("bogus")
	require.Error(t, err)

	_, err = parseEntries([]any{[]any{"1-0", []any{"f"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "odd field list")

	_, err = parseEntries([]any{[]any{"1-0", "not-a-list"}})
	require.Error(t, err)
}

func TestParseEntryByteFields(t *testing.T) {
	rec, err := parseEntry([]any{[]byte("1-0"), []any{[]byte("f"), []byte("v")}})
	require.NoError(t, err)
	require.Equal(t, xstream.ID("1-0"), rec.ID)
	require.Equal(t, "f", string(rec.Fields[0].Key))
	require.Equal(t, "v", string(rec.Fields[0].Value))

	// A nil field list is an entry with no body.
	rec, err = parseEntry([]any{"2-0", nil})
	require.NoError(t, err)
	require.Equal(t, xstream.ID("2-0"), rec.ID)
	require.Empty(t, rec.Fields)
}
