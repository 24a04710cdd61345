package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xstream"
)

type transport struct {
	client *redis.Client

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewTransport connects to Redis and verifies connectivity with a ping.
// Zero-valued Config fields fall back to Defaults().
func NewTransport(cfg Config) (xstream.Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,

		// Reply parsing relies on the RESP2 array form; see doc.go.
		Protocol: 2,

		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.ReadTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &transport{client: client}, nil
}

// NewTransportFromClient wraps an existing client, e.g. one shared with
// other subsystems or a mock. No ping is performed, and Close closes the
// wrapped client.
func NewTransportFromClient(client *redis.Client) xstream.Transport {
	return &transport{client: client}
}

func (t *transport) Add(ctx context.Context, args xstream.AddArgs) (xstream.ID, error) {
	// Flat k/v slice instead of a map so field order survives the trip.
	values := make([]any, 0, 2*len(args.Fields))
	for _, f := range args.Fields {
		values = append(values, string(f.Key), f.Value)
	}

	xa := &redis.XAddArgs{
		Stream: string(args.Key),
		ID:     string(args.ID),
		Values: values,
	}
	if xa.ID == "" {
		xa.ID = string(xstream.IDAuto)
	}
	if args.MaxLen > 0 {
		xa.MaxLen = args.MaxLen
		xa.Approx = args.Approx
	}

	id, err := t.client.XAdd(ctx, xa).Result()
	if err != nil {
		return "", err
	}
	return xstream.ID(id), nil
}

func (t *transport) Delete(ctx context.Context, key []byte, ids []xstream.ID) (int64, error) {
	return t.client.XDel(ctx, string(key), idStrings(ids)...).Result()
}

func (t *transport) Len(ctx context.Context, key []byte) (int64, error) {
	return t.client.XLen(ctx, string(key)).Result()
}

func (t *transport) Trim(ctx context.Context, key []byte, maxLen int64, approx bool) (int64, error) {
	if approx {
		return t.client.XTrimMaxLenApprox(ctx, string(key), maxLen, 0).Result()
	}
	return t.client.XTrimMaxLen(ctx, string(key), maxLen).Result()
}

func (t *transport) Range(ctx context.Context, args xstream.RangeArgs) ([]xstream.RawRecord, error) {
	v, err := t.client.Do(ctx, rangeCmd(args)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	recs, err := parseEntries(v)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Key = args.Key
	}
	return recs, nil
}

func (t *transport) Read(ctx context.Context, args xstream.ReadArgs) ([]xstream.RawStream, error) {
	v, err := t.client.Do(ctx, readCmd(args)...).Result()
	if err != nil {
		// Nil reply means no records arrived within the block window.
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return parseStreams(v)
}

func (t *transport) ReadGroup(ctx context.Context, args xstream.ReadGroupArgs) ([]xstream.RawStream, error) {
	v, err := t.client.Do(ctx, readGroupCmd(args)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return parseStreams(v)
}

func (t *transport) Ack(ctx context.Context, key []byte, group string, ids []xstream.ID) (int64, error) {
	return t.client.XAck(ctx, string(key), group, idStrings(ids)...).Result()
}

func (t *transport) EnsureGroup(ctx context.Context, key []byte, group string, from xstream.ID) (bool, error) {
	err := t.client.XGroupCreateMkStream(ctx, string(key), group, string(from)).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *transport) DestroyGroup(ctx context.Context, key []byte, group string) (bool, error) {
	n, err := t.client.XGroupDestroy(ctx, string(key), group).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *transport) Pending(ctx context.Context, args xstream.PendingArgs) ([]xstream.PendingRecord, error) {
	rows, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(args.Key),
		Group:    args.Group,
		Idle:     args.MinIdle,
		Start:    rangeBound(args.Start, args.StartExclusive),
		End:      rangeBound(args.End, args.EndExclusive),
		Count:    args.Count,
		Consumer: args.Consumer,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]xstream.PendingRecord, 0, len(rows))
	for i := range rows {
		out = append(out, xstream.PendingRecord{
			ID:         xstream.ID(rows[i].ID),
			Consumer:   rows[i].Consumer,
			Idle:       rows[i].Idle,
			Deliveries: rows[i].RetryCount,
		})
	}
	return out, nil
}

func (t *transport) Claim(ctx context.Context, args xstream.ClaimArgs) ([]xstream.RawRecord, error) {
	v, err := t.client.Do(ctx, claimCmd(args)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	recs, err := parseEntries(v)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Key = args.Key
	}
	return recs, nil
}

func (t *transport) Close(_ context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.client.Close()
	})
	return err
}

func idStrings(ids []xstream.ID) []string {
	out := make([]string, len(ids))
	for i := range ids {
		out[i] = string(ids[i])
	}
	return out
}

func ping(c *redis.Client, cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
