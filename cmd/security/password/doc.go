// Package password provides password digest creation and verification for latch.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Configurable Argon2id parameters (via environment variables)
// - A minimal password policy (empty and oversized inputs are rejected)
// - Strict digest decoding and verification with anti-DoS bounds
// - Read-only verification of legacy bcrypt digests, with NeedsRehash to drive upgrades
//
// Security notes:
// - Digest strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses digests with parameters that exceed reasonable bounds.
package password
