// Package redisstream provides a Redis Streams transport for xstream.
//
// Transport name: "redis-streams"
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - username / password: credentials (default empty)
// - db: database index (default 0)
// - tls: enable TLS (default false)
// - tls_server_name: SNI override (optional)
// - pool_size: connection pool size (default 10)
// - min_idle_conns: idle connections kept warm (default 5)
// - max_retries: per-command retries (default 3)
// - ping_timeout: startup ping deadline (default 2s)
//
// Example builder usage:
//
//	client, _ := xstream.NewClientBuilder[string, string, string]().
//	    WithTransport(redisstream.TransportName, map[string]any{
//	        "addr": "localhost:6379",
//	        "db":   1,
//	    }).
//	    WithKeyCodec(xstream.String()).
//	    WithFieldCodec(xstream.String()).
//	    WithValueCodec(xstream.String()).
//	    Build()
//
// Record-returning commands (XRANGE, XREVRANGE, XREAD, XREADGROUP,
// XCLAIM) are issued raw and parsed by hand because the typed client
// folds entry fields into a Go map, which destroys field order. Field
// order is part of a record's identity here, so the wire order is kept.
package redisstream
