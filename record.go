package xstream

import "iter"

// FieldMap is the ordered body of a record. Fields iterate in insertion
// order; setting an existing key replaces its value in place, so the last
// write wins without losing the original position.
type FieldMap[F comparable, V any] struct {
	keys []F
	vals map[F]V
}

// NewFieldMap returns an empty field map.
func NewFieldMap[F comparable, V any]() *FieldMap[F, V] {
	return &FieldMap[F, V]{vals: make(map[F]V)}
}

// Set stores value under key, appending new keys and overwriting existing
// ones in place. It returns the map for chaining.
func (m *FieldMap[F, V]) Set(key F, value V) *FieldMap[F, V] {
	if m.vals == nil {
		m.vals = make(map[F]V)
	}
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
	return m
}

// Get returns the value stored under key.
func (m *FieldMap[F, V]) Get(key F) (V, bool) {
	if m == nil || m.vals == nil {
		var zero V
		return zero, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Len returns the number of fields.
func (m *FieldMap[F, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the field keys in insertion order.
func (m *FieldMap[F, V]) Keys() []F {
	if m == nil {
		return nil
	}
	out := make([]F, len(m.keys))
	copy(out, m.keys)
	return out
}

// All iterates fields in insertion order.
func (m *FieldMap[F, V]) All() iter.Seq2[F, V] {
	return func(yield func(F, V) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.vals[k]) {
				return
			}
		}
	}
}

// Record is a fully decoded stream entry: the stream it belongs to, its
// position, and its ordered body. Records returned by read operations
// should be treated as immutable.
type Record[K any, F comparable, V any] struct {
	Key    K
	ID     ID
	Fields *FieldMap[F, V]
}

// NewRecord builds a record for submission via AddRecord. Leave ID empty
// (or IDAuto) to let the transport assign the position.
func NewRecord[K any, F comparable, V any](key K, fields *FieldMap[F, V]) *Record[K, F, V] {
	return &Record[K, F, V]{Key: key, ID: IDAuto, Fields: fields}
}

// RawField is a single encoded field of a record.
type RawField struct {
	Key   []byte
	Value []byte
}

// RawRecord is a stream entry as it travels the wire: encoded stream key,
// assigned id, and encoded fields in stream order.
type RawRecord struct {
	Key    []byte
	ID     ID
	Fields []RawField
}

// RawStream groups the raw records returned for one stream of a
// multi-stream read.
type RawStream struct {
	Key     []byte
	Records []RawRecord
}
