package xstream

import (
	"strconv"
	"strings"
)

// ID identifies a record within a stream. Concrete ids have the form
// "<ms>-<seq>" and order records by milliseconds first, sequence second.
// The remaining values are placeholder tokens understood by specific
// operations; they never name a stored record.
type ID string

const (
	// IDAuto asks the transport to assign the next id on Add.
	IDAuto ID = "*"
	// IDStart addresses the beginning of a stream in read offsets.
	IDStart ID = "0"
	// IDLatest addresses the current end of a stream: reads starting here
	// observe only records appended after the call.
	IDLatest ID = "$"
	// IDUndelivered selects records never delivered to the consumer group.
	// Valid only in group reads.
	IDUndelivered ID = ">"
	// IDRangeMin is the lowest possible id in a range query.
	IDRangeMin ID = "-"
	// IDRangeMax is the highest possible id in a range query.
	IDRangeMax ID = "+"
)

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// IsConcrete reports whether the id names a stored record rather than a
// placeholder token. A bare "<ms>" form counts as concrete (sequence 0).
func (id ID) IsConcrete() bool {
	_, _, ok := id.Parts()
	return ok
}

// Parts splits a concrete id into its milliseconds and sequence components.
// A missing sequence part parses as 0. ok is false for placeholder tokens
// and malformed ids.
func (id ID) Parts() (ms, seq uint64, ok bool) {
	s := string(id)
	if s == "" {
		return 0, 0, false
	}
	msPart, seqPart, found := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if !found {
		return ms, 0, true
	}
	seq, err = strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return ms, seq, true
}

// NewID builds a concrete id from milliseconds and sequence components.
func NewID(ms, seq uint64) ID {
	return ID(strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(seq, 10))
}

// Compare orders two ids by stream position: -1 when id precedes other,
// 0 when equal, +1 when id follows other. Ids that do not parse as
// concrete compare lexically, which keeps the result deterministic but
// carries no stream meaning.
func (id ID) Compare(other ID) int {
	ams, aseq, aok := id.Parts()
	bms, bseq, bok := other.Parts()
	if !aok || !bok {
		return strings.Compare(string(id), string(other))
	}
	switch {
	case ams < bms:
		return -1
	case ams > bms:
		return 1
	case aseq < bseq:
		return -1
	case aseq > bseq:
		return 1
	}
	return 0
}

// Before reports whether id precedes other in stream order.
func (id ID) Before(other ID) bool { return id.Compare(other) < 0 }

// After reports whether id follows other in stream order.
func (id ID) After(other ID) bool { return id.Compare(other) > 0 }
