package xstream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
)

// Codec is the Strategy translating one typed position of a record (stream
// key, field key, or field value) to and from wire bytes. A client carries
// three independent codecs, so the three positions may use different
// representations.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
	Name() string
}

// String passes strings through as UTF-8 bytes.
func String() Codec[string] { return stringCodec{} }

type stringCodec struct{}

func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }
func (stringCodec) Name() string                    { return "string" }

// Bytes passes byte slices through untouched.
func Bytes() Codec[[]byte] { return bytesCodec{} }

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (bytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }
func (bytesCodec) Name() string                    { return "bytes" }

// Int64 encodes integers as decimal text, matching how counters read back
// from stream entries are usually written.
func Int64() Codec[int64] { return int64Codec{} }

type int64Codec struct{}

func (int64Codec) Encode(v int64) ([]byte, error) {
	return strconv.AppendInt(nil, v, 10), nil
}

func (int64Codec) Decode(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("int64 codec: %w", err)
	}
	return n, nil
}

func (int64Codec) Name() string { return "int64" }

// JSON encodes values of type T with encoding/json.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (jsonCodec[T]) Name() string { return "json" }

// Proto encodes protobuf messages in the binary wire format. M is the
// generated pointer type, e.g. Proto[*pb.Order]().
func Proto[M proto.Message]() Codec[M] { return protoCodec[M]{} }

type protoCodec[M proto.Message] struct{}

func (protoCodec[M]) Encode(v M) ([]byte, error) { return proto.Marshal(v) }

func (protoCodec[M]) Decode(b []byte) (M, error) {
	var zero M
	// Generated messages tolerate ProtoReflect on the nil pointer, which
	// gives us a factory for fresh instances without reflection on M.
	msg := zero.ProtoReflect().Type().New().Interface()
	if err := proto.Unmarshal(b, msg); err != nil {
		return zero, err
	}
	return msg.(M), nil
}

func (protoCodec[M]) Name() string { return "proto" }
