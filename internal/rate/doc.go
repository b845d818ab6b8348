// Package rate implements the Redis-backed failed sign-in limiter.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key suffixes:
//   - :sf:  per email (sha256 prefix of the normalized address)
//   - :sfi: per client IP
//
// # What this package must NOT do
//
//   - Decide what counts as a failure; the engine reports failures.
//   - Be imported outside the goIdentity module.
package rate
