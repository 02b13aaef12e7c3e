// Package decision implements the BGP-lite total order over candidate
// routes for a destination (spec §4.7).
package decision

import "github.com/kelveyn/pathd/state"

// Best selects the single best Route from a non-empty candidate set,
// applying spec §4.7's six tie-break rules in order. It panics if routes
// is empty — callers (the data plane) must only call Best after
// confirming at least one candidate exists.
func Best(routes []state.Route) state.Route {
	if len(routes) == 0 {
		panic("decision: Best called with no candidates")
	}
	best := routes[0]
	for _, r := range routes[1:] {
		if Less(best, r) {
			best = r
		}
	}
	return best
}

// Less reports whether b is strictly preferred over a under spec §4.7's
// tie-break order. It never returns true for both (a, b) and (b, a) on
// distinct routes — rule 6 (lowest next-hop IP) is a deterministic final
// tie-break that never compares equal for two routes from distinct
// peers, making the overall order total, per spec §8's invariant.
func Less(a, b state.Route) bool {
	// 1. Longest prefix match: higher prefix length wins.
	if a.PfxLen() != b.PfxLen() {
		return b.PfxLen() > a.PfxLen()
	}
	// 2. Local preference: higher wins.
	if a.LocalPref != b.LocalPref {
		return b.LocalPref > a.LocalPref
	}
	// 3. Self-origin: self-originated wins over non-self.
	if a.SelfOrigin != b.SelfOrigin {
		return b.SelfOrigin
	}
	// 4. AS-path length: shorter wins.
	if len(a.ASPath) != len(b.ASPath) {
		return len(b.ASPath) < len(a.ASPath)
	}
	// 5. Origin: IGP < EGP < UNK.
	if a.Origin != b.Origin {
		return b.Origin < a.Origin
	}
	// 6. Next-hop IP: lower numeric address wins, deterministic.
	return b.Peer < a.Peer
}
