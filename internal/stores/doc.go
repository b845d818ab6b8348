// Package stores provides the Redis-backed temporary code store.
//
// # Design
//
// One versioned, binary-encoded record per (purpose, subject) key, written
// with SET NX PX so Redis itself rejects a second outstanding code. Records
// are single-use: redemption is a compare-and-delete script against the exact
// blob that was read, so two concurrent redemptions cannot both succeed.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for temporary code
// records. It does NOT generate codes, hash them or compare submitted codes.
// The engine does that with the record returned by Get.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Store or log plaintext codes.
package stores
