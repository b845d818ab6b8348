// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful sign-in.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Strength policy is
// enforced by the Engine; Hash rejects nothing but empty input and input
// above the configured byte cap.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goIdentity package.
//   - Log plaintext passwords.
package password
