// Package middleware exposes net/http middleware that authenticates requests
// against a goIdentity session.
//
// # Guards
//
//   - [RequireSession] resolves the bearer token from the Authorization
//     header (or the session cookie) through Engine.Authenticate.
//
// The resolved user and session are available to handlers through
// [UserFromContext] and [SessionFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; session lookup, expiry and user
// resolution are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Access Redis or the user store directly.
//   - Log or echo the bearer token.
//   - Make authorization decisions beyond pass/reject.
package middleware
