package redisstream

import (
	"fmt"
	"time"
)

// Config for the Redis Streams transport with production-grade settings.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Pooling & retries
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// ReadTimeout is the socket read timeout. Blocking stream reads can
	// legitimately outlast any fixed socket timeout, so the default
	// disables it (-1); callers bound waits with per-call contexts.
	ReadTimeout time.Duration

	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		ReadTimeout:  -1,
		PingTimeout:  2 * time.Second,
	}
}

// withDefaults fills zero-valued fields from Defaults. MinIdleConns is
// left alone so an explicit zero keeps meaning "no warm connections".
func (c Config) withDefaults() Config {
	def := Defaults()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.PoolSize == 0 {
		c.PoolSize = def.PoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	return c
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 || c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("config: min_idle_conns must be in [0, pool_size], got %d", c.MinIdleConns)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("config: ping_timeout must be > 0, got %v", c.PingTimeout)
	}
	return nil
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"pool_size":       c.PoolSize,
		"min_idle_conns":  c.MinIdleConns,
		"max_retries":     c.MaxRetries,
		"read_timeout":    c.ReadTimeout,
		"ping_timeout":    c.PingTimeout,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	def := Defaults()
	return Config{
		Addr:          getString("addr", def.Addr),
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", def.DB),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),

		PoolSize:     getInt("pool_size", def.PoolSize),
		MinIdleConns: getInt("min_idle_conns", def.MinIdleConns),
		MaxRetries:   getInt("max_retries", def.MaxRetries),
		ReadTimeout:  getDur("read_timeout", def.ReadTimeout),
		PingTimeout:  getDur("ping_timeout", def.PingTimeout),
	}
}
