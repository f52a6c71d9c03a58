// Package identity holds latch's account model and the resolved request identity.
//
// It defines the Account record, the closed Identity variant produced by session
// resolution, the sentinel error kinds shared by every store, and the Postgres
// account store. Password and token primitives live under cmd/security.
package identity
