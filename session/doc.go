// Package session provides Redis-backed session persistence and a compact
// binary record encoding.
//
// # Storage layout
//
// Bearer tokens are never written to Redis. Each session is keyed by its Ref,
// the hex SHA-256 of the token:
//
//	<prefix>:s:<ref>      binary Record, PX = time until expiry
//	<prefix>:u:<userID>   set of refs owned by the user
//
// The per-user set is an index, not the source of truth. Refs whose record is
// gone or past expiry are pruned whenever the set is read.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Record] model. It
// does NOT enforce the session cap or the expiry window; those are Engine
// policy.
//
// # What this package must NOT do
//
//   - Import goIdentity (no upward imports).
//   - Store plaintext bearer tokens.
package session
