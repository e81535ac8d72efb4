package ratelimit

// Stats is a snapshot of limiter state.
type Stats struct {
	LocalLimiters int  `json:"local_limiters"`
	GlobalEnabled bool `json:"global_enabled"`
	DegradedMode  bool `json:"degraded_mode"`

	PoolHits       uint32 `json:"pool_hits"`
	PoolMisses     uint32 `json:"pool_misses"`
	PoolTimeouts   uint32 `json:"pool_timeouts"`
	PoolTotalConns uint32 `json:"pool_total_conns"`
	PoolIdleConns  uint32 `json:"pool_idle_conns"`
}

// Stats returns the limiter state and, when Redis is configured, its pool
// counters.
func (l *Limiter) Stats() Stats {
	l.localMu.RLock()
	count := len(l.localLimiters)
	l.localMu.RUnlock()

	stats := Stats{
		LocalLimiters: count,
		GlobalEnabled: l.globalConfig.Enabled,
		DegradedMode:  l.degraded.Load(),
	}
	if l.globalClient != nil {
		pool := l.globalClient.PoolStats()
		stats.PoolHits = pool.Hits
		stats.PoolMisses = pool.Misses
		stats.PoolTimeouts = pool.Timeouts
		stats.PoolTotalConns = pool.TotalConns
		stats.PoolIdleConns = pool.IdleConns
	}
	return stats
}
