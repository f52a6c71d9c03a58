// Package session implements latch's session identity resolver.
//
// A session is an opaque random token handed to the client once. The server
// stores only its hash (HMAC-SHA256 when LATCH_TOKEN_HMAC_KEY is set; otherwise
// SHA-256 for dev) together with the bound account, an active flag, and an
// absolute expiry. Resolving a token yields exactly one identity.Identity.
//
// Transport (cookies, headers) is intentionally out of scope here.
package session
