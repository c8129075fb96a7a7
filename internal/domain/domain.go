package domain

import (
	"fmt"
	"strings"
)

// Domain identifies the vehicle subsystem a message is addressed to.
// Each session-bearing domain keeps its own session.
type Domain int

const (
	// DomainBroadcast is unauthenticated and never carries a session.
	DomainBroadcast Domain = 0
	// DomainVCSEC handles lock, unlock, wake and keychain management.
	DomainVCSEC Domain = 2
	// DomainInfotainment handles commands that terminate on the infotainment system.
	DomainInfotainment Domain = 3
)

// SessionDomains lists every domain that requires an authenticated session,
// in the order sessions are loaded at startup.
var SessionDomains = []Domain{DomainVCSEC, DomainInfotainment}

// String returns a human-readable representation of the domain.
func (d Domain) String() string {
	switch d {
	case DomainBroadcast:
		return "broadcast"
	case DomainVCSEC:
		return "vcsec"
	case DomainInfotainment:
		return "infotainment"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	switch d {
	case DomainBroadcast, DomainVCSEC, DomainInfotainment:
		return true
	}
	return false
}

// RequiresSession reports whether messages to d must be signed.
func (d Domain) RequiresSession() bool {
	return d == DomainVCSEC || d == DomainInfotainment
}

// RequiresAwake reports whether the vehicle must be awake before a command
// for d is transmitted. VCSEC stays reachable while the vehicle sleeps.
func (d Domain) RequiresAwake() bool {
	return d == DomainInfotainment
}

// ParseDomain parses a domain name as produced by String.
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "broadcast":
		return DomainBroadcast, nil
	case "vcsec":
		return DomainVCSEC, nil
	case "infotainment":
		return DomainInfotainment, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDomain, s)
}
