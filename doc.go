// Package sessioncore is the cross-module session engine: a bounded,
// time-limited context store shared by conversational agents, tool calls,
// workflow steps, knowledge search, and human-approval gates, sitting between
// a Redis cache tier and a durable store.
//
// The [Engine] is constructed through the [Builder] and owns session
// creation, the dual-tier read path, cross-module context merging with typed
// projections, memory-quota enforcement, per-user capacity eviction,
// recovery snapshotting, and the periodic lifecycle scheduler (expiry sweep
// and usage aggregation).
//
// The durable store is consumed through the [Store] interface; package
// memstore ships the in-memory reference implementation. The cache tier is
// never authoritative: a durable write completes before the cache is
// populated, and cache failures degrade to durable-only operation.
package sessioncore
