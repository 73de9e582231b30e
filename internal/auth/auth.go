// Package auth answers "is this caller the designated administrator?".
// The engine consumes the predicate as an injected capability; who holds
// the capability (key custody, signatures) is decided outside this service.
package auth

import "strings"

// Gate is the authorization capability consumed by market creation and
// resolution.
type Gate interface {
	IsAdmin(caller string) bool
}

// StaticGate authorizes a fixed set of addresses, compared
// case-insensitively (hex addresses arrive in mixed checksum casing).
type StaticGate struct {
	admins map[string]struct{}
}

// NewStaticGate builds a gate from the configured administrator addresses.
func NewStaticGate(addrs []string) *StaticGate {
	admins := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a = Normalize(a); a != "" {
			admins[a] = struct{}{}
		}
	}
	return &StaticGate{admins: admins}
}

func (g *StaticGate) IsAdmin(caller string) bool {
	_, ok := g.admins[Normalize(caller)]
	return ok
}

// Normalize canonicalizes an address for use as a storage key, so the
// same wallet in different checksum casings maps to one account.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
