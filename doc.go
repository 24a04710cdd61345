// Package xstream provides a typed client for append-only streams with
// consumer groups, modeled on Redis Streams semantics.
//
// A Client[K, F, V] is parameterized by three independent codecs:
// - K: the stream key type
// - F: the field key type within a record
// - V: the field value type within a record
//
// Operations return cold Task (single value) or Seq (stream of values)
// containers. Nothing touches the transport until the container is
// consumed with a context, and every consumption re-issues the call:
//
//	client, closeFn, _ := xstream.New[string, string, string](func(cb *xstream.ClientBuilder[string, string, string]) {
//	    cb.WithTransport(redisstream.TransportName, map[string]any{"addr": "localhost:6379"}).
//	        WithKeyCodec(xstream.String()).
//	        WithFieldCodec(xstream.String()).
//	        WithValueCodec(xstream.String())
//	})
//	defer closeFn()
//
//	id, err := client.Add("orders", xstream.NewFieldMap[string, string]().Set("status", "created")).Await(ctx)
//	for rec, err := range client.Range("orders", xstream.RangeAll(), xstream.NoLimit()).All(ctx) {
//	    ...
//	}
//
// Structurally invalid arguments fail fast with ArgumentError before any
// transport call. A record that cannot be decoded fails its whole batch
// with DecodeError. Transport errors pass through verbatim, and an empty
// result is success, never an error.
package xstream
