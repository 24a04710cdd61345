package xstream

import (
	"context"
	"time"
)

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete typed stream surface for extensibility.
type API[K any, F comparable, V any] interface {
	Add(key K, fields *FieldMap[F, V], opts ...AddOption) Task[ID]
	AddRecord(rec *Record[K, F, V], opts ...AddOption) Task[ID]
	Delete(key K, ids ...ID) Task[int64]
	Len(key K) Task[int64]
	Trim(key K, maxLen int64, opts ...TrimOption) Task[int64]
	Range(key K, rng Range, limit Limit) Seq[*Record[K, F, V]]
	RevRange(key K, rng Range, limit Limit) Seq[*Record[K, F, V]]
	Read(opts ReadOptions, offsets ...Offset[K]) Seq[*Record[K, F, V]]
	ReadGroup(consumer Consumer, opts ReadOptions, offsets ...Offset[K]) Seq[*Record[K, F, V]]
	Ack(key K, group string, ids ...ID) Task[int64]
	EnsureGroup(key K, group string, from ID) Task[bool]
	DestroyGroup(key K, group string) Task[bool]
	Pending(key K, group string, rng Range, count int64, opts ...PendingOption) Seq[PendingRecord]
	Claim(key K, consumer Consumer, minIdle time.Duration, ids ...ID) Seq[*Record[K, F, V]]
	Subscribe(ctx context.Context, key K, consumer Consumer, handler Handler[K, F, V], opts *SubscribeOptions[K]) (Subscription, error)
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API[string, string, string] = (*Client[string, string, string])(nil)
var _ HealthChecker = (*Client[string, string, string])(nil)
