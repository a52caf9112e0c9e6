// Package metrics 进程内计数器，经 expvar 暴露在 /debug/vars
package metrics

import (
	"expvar"
	"strings"
)

const prefix = "kis_"

var (
	TokenIssued      = expvar.NewInt(prefix + "token_issued")
	TokenCacheHits   = expvar.NewInt(prefix + "token_cache_hits")
	TokenRateLimited = expvar.NewInt(prefix + "token_rate_limited")
	TokenRevoked     = expvar.NewInt(prefix + "token_revoked")

	RequestRetries  = expvar.NewInt(prefix + "request_retries")
	OrdersSubmitted = expvar.NewInt(prefix + "orders_submitted")
	OrdersRejected  = expvar.NewInt(prefix + "orders_rejected")

	FeedReconnects    = expvar.NewInt(prefix + "feed_reconnects")
	FeedUpdates       = expvar.NewInt(prefix + "feed_updates")
	FeedDroppedEvents = expvar.NewInt(prefix + "feed_dropped_events")
	FeedBadFrames     = expvar.NewInt(prefix + "feed_bad_frames")
)

// Snapshot 当前全部 kis_ 计数器，键去掉前缀
func Snapshot() map[string]int64 {
	out := make(map[string]int64)
	expvar.Do(func(kv expvar.KeyValue) {
		if !strings.HasPrefix(kv.Key, prefix) {
			return
		}
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[strings.TrimPrefix(kv.Key, prefix)] = v.Value()
		}
	})
	return out
}
