// Package goIdentity provides the identity and session lifecycle of a web
// application: sign-up, sign-in, opaque bearer sessions with a per-user cap,
// TOTP two-factor authentication with single-use recovery codes, and
// purpose-scoped temporary codes delivered by mail.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config], the value
// types (User, Session, TempCode, Purpose) and the collaborator interfaces [UserStore],
// [Mailer] and [StrengthScorer]. Sessions and temporary codes live in Redis through
// session/ and internal/stores; users and two-factor state live behind [UserStore]
// (storage/sqlstore ships a Postgres/SQLite implementation).
//
// # Errors
//
// Every Engine operation returns an [*Error] whose [Kind] classifies the failure.
// Match a class with errors.Is(err, KindConflict) or a cause with
// errors.Is(err, ErrEmailTaken).
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Log or return plaintext temporary codes, session tokens or passwords, except the
//     session ID returned once by SignIn/CreateSession and the recovery codes returned
//     once at enrollment.
//   - Import any sub-package that re-imports goIdentity (no import cycles).
package goIdentity
