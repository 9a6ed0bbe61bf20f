// Package rulestate classifies the textual rule listing reported by the
// firewall backend into a small discrete state model. All functions are pure;
// the listing is always taken from a live backend query and never cached.
package rulestate

import (
	"regexp"
	"strconv"
	"strings"
)

// FirewallState reports whether the firewall engine itself is running.
type FirewallState int

const (
	FirewallInactive FirewallState = iota
	FirewallActive
)

func (s FirewallState) String() string {
	if s == FirewallActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// RuleState classifies the target service's reachability.
type RuleState int

const (
	// Unknown means classification could not be determined; it is a failure
	// condition, not a stable state.
	Unknown RuleState = iota

	// Allow means exactly the expected rule set is present: an IPv4/IPv6 pair
	// of profile rules, or an IPv4/IPv6 pair of port rules, but not a mix.
	Allow

	// Deny means no rules for the service exist.
	Deny

	// Partial means rules exist but match neither complete allow shape.
	Partial

	// Inactive means the firewall itself is not running and the rule state is
	// unknowable.
	Inactive
)

func (s RuleState) String() string {
	switch s {
	case Allow:
		return "ALLOW"
	case Deny:
		return "DENY"
	case Partial:
		return "PARTIAL"
	case Inactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Target identifies the managed service by application profile and port.
// Both are compared against backend listings to count matching rule lines.
type Target struct {
	// Profile is the backend-predefined application profile name.
	Profile string

	// Port is the service port.
	Port int

	// Proto is the transport protocol ("tcp" or "udp").
	Proto string
}

// ParseFirewallState extracts the engine state from the listing's status line.
// A missing or malformed status line reads as INACTIVE; the backend adapter
// has already retried and rejected listings without one.
func ParseFirewallState(listing string) FirewallState {
	for _, line := range strings.Split(listing, "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "Status:")
		if !ok {
			continue
		}
		if strings.TrimSpace(value) == "active" {
			return FirewallActive
		}
		return FirewallInactive
	}
	return FirewallInactive
}

// Classify reduces a rule listing to a RuleState for the target.
//
// It counts lines whose first whitespace-delimited token equals the target's
// profile name, and separately lines whose first token equals the target's
// port number. Each class expects exactly 2 lines when fully present, one per
// IP family; any other combination is PARTIAL. The exact-count rule treats
// duplicate rules as PARTIAL rather than ALLOW, since duplicates indicate an
// inconsistent external edit.
func Classify(listing string, target Target) RuleState {
	if ParseFirewallState(listing) != FirewallActive {
		return Inactive
	}

	profileCount, portCount := Counts(listing, target)

	switch {
	case profileCount == 2 && portCount == 0:
		return Allow
	case profileCount == 0 && portCount == 2:
		return Allow
	case profileCount == 0 && portCount == 0:
		return Deny
	default:
		return Partial
	}
}

// Counts returns the number of rule lines whose first token equals the
// target's profile name, and separately the number whose first token equals
// the target's port number.
func Counts(listing string, target Target) (profileCount, portCount int) {
	port := strconv.Itoa(target.Port)

	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case target.Profile:
			profileCount++
		case port:
			portCount++
		}
	}
	return profileCount, portCount
}

// indexedLine matches a numbered listing entry: "[ 3] 51413 ALLOW IN Anywhere".
var indexedLine = regexp.MustCompile(`^\[\s*(\d+)\]\s+(\S+)`)

// MatchingIndexes extracts the rule index of every numbered listing line whose
// first token matches the target's profile name or port number. Indexes are
// returned in listing order; callers that delete by index must sort them
// descending first, since deletion renumbers subsequent rules.
//
// The match is deliberately the loose first-token comparison the backend's
// own listing format implies, not a stricter structural parse.
func MatchingIndexes(numbered string, target Target) []int {
	port := strconv.Itoa(target.Port)

	var indexes []int
	for _, line := range strings.Split(numbered, "\n") {
		m := indexedLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if m[2] != target.Profile && m[2] != port {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indexes = append(indexes, idx)
	}
	return indexes
}
