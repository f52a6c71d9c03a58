// Package token provides opaque session token generation and hashing for latch.
//
// Tokens are random bytes from crypto/rand encoded as unpadded base64url. Only a
// hash of a token is ever persisted:
//   - SHA-256(token) when no HMAC key is configured (dev mode).
//   - HMAC-SHA256(token, key) when LATCH_TOKEN_HMAC_KEY is set.
//
// Both produce a stable 64-char hex string suitable for a unique index.
//
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
