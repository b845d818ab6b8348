// Package internal contains helper utilities that are intentionally private to
// goIdentity: random token, code and salt generation, and the derived hashes
// of session tokens and recovery codes.
//
// # Sub-packages
//
//   - httpapi: echo JSON transport used by cmd/identityd
//   - rate: Redis-backed failed sign-in limiter
//   - stores: Redis-backed temporary code store
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
