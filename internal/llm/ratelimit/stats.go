package ratelimit

// Stats is a point-in-time snapshot of limiter health. LocalLimiters growing
// without bound means the cleanup sweep is falling behind; DegradedMode true
// means Redis dropped out and only in-process limits are being enforced.
type Stats struct {
	// LocalLimiters counts live per-key token buckets, fallback buckets
	// included.
	LocalLimiters int
	// GlobalEnabled reports whether the Redis window layer is configured.
	GlobalEnabled bool
	// DegradedMode reports whether the Redis layer has been bypassed since
	// the last restart.
	DegradedMode bool

	// Redis connection pool counters, zero when no global client exists.
	PoolHits       uint32
	PoolMisses     uint32
	PoolTimeouts   uint32
	PoolTotalConns uint32
	PoolIdleConns  uint32
	PoolStaleConns uint32
}
