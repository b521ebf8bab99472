// Package password seals retained account passwords so they can be replayed to
// the provider on a later refresh.
//
// Provider logins need the plaintext password again, so retention cannot use a
// one-way hash. Each sealed value derives its own key from the configured seal
// key with Argon2id and a random salt, then encrypts with XChaCha20-Poly1305.
//
// # Output format
//
// Sealed values are encoded in a PHC-like string:
//
//	$xchacha20poly1305$argon2id$m=<memory>,t=<time>,p=<threads>$<salt>$<nonce||ciphertext>
//
// # What this package must NOT do
//
//   - Persist sealed values (the account store does that).
//   - Import any other goSession package.
//   - Log plaintext passwords or seal keys.
package password
