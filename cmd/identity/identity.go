package identity

import "fmt"

// Kind discriminates the Identity variant.
type Kind uint8

const (
	// KindUnauthenticated is a well-formed credential that maps to no live session.
	KindUnauthenticated Kind = iota
	// KindAnonymous is a request that presented no usable credential at all.
	KindAnonymous
	// KindAuthenticated is a request bound to an account.
	KindAuthenticated
)

func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Identity is the resolved identity of a request. It is a closed variant:
// the account id is present only for KindAuthenticated, and the zero value
// is Unauthenticated.
type Identity struct {
	kind      Kind
	accountID string
}

// Authenticated returns an identity bound to accountID.
// An empty accountID yields Unauthenticated.
func Authenticated(accountID string) Identity {
	if accountID == "" {
		return Unauthenticated()
	}
	return Identity{kind: KindAuthenticated, accountID: accountID}
}

// Anonymous returns the identity of a request without a usable credential.
func Anonymous() Identity { return Identity{kind: KindAnonymous} }

// Unauthenticated returns the identity of a request whose credential is unknown,
// expired, or revoked.
func Unauthenticated() Identity { return Identity{} }

// Kind returns the variant tag.
func (i Identity) Kind() Kind { return i.kind }

// AccountID returns the bound account id and true only for Authenticated identities.
func (i Identity) AccountID() (string, bool) {
	if i.kind != KindAuthenticated {
		return "", false
	}
	return i.accountID, true
}

// IsAuthenticated reports whether i is bound to an account.
func (i Identity) IsAuthenticated() bool { return i.kind == KindAuthenticated }

func (i Identity) String() string {
	if i.kind == KindAuthenticated {
		return fmt.Sprintf("authenticated(%s)", i.accountID)
	}
	return i.kind.String()
}
