// Package sqlstore is the relational goIdentity.UserStore.
//
// It runs on PostgreSQL through the pgx stdlib driver and on SQLite through
// modernc.org/sqlite, with one schema managed by goose migrations embedded
// in the migrations package. Uniqueness of user ID, email, username and the
// one-per-user two-factor record is enforced by table constraints; the
// driver's unique-violation error is translated into the matching goIdentity
// sentinel, so concurrent sign-ups race on the database and not in memory.
//
// Timestamps are stored as unix milliseconds and recovery code hashes as
// lowercase hex, which keeps the schema identical across both dialects.
//
// ActivitySink writes goIdentity activity records into the activity table.
package sqlstore
