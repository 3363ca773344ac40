// Package session provides the session record model, its JSON codec, the
// Redis-backed cache mirror, and the typed per-module context projections.
//
// # Architecture boundaries
//
// This package owns the [Session] model, the [Cache] (Redis operations), and
// read-only view construction. It does NOT enforce memory quotas, per-user
// capacity, or lifecycle policy; those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import sessioncore or memstore (no upward imports).
//   - Talk to the durable store.
//   - Interpret the semantic meaning of stored context payloads.
package session
