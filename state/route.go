package state

import "github.com/kelveyn/pathd/ipaddr"

// Origin is a Route's origin attribute. Lower values are preferred by the
// decision engine (decision.Best), per spec §4.7 rule 5.
type Origin int

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginUNK
)

// ParseOrigin maps the wire string form to Origin. ok is false for
// anything other than "IGP", "EGP", "UNK".
func ParseOrigin(s string) (Origin, bool) {
	switch s {
	case "IGP":
		return OriginIGP, true
	case "EGP":
		return OriginEGP, true
	case "UNK":
		return OriginUNK, true
	default:
		return 0, false
	}
}

func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "IGP"
	case OriginEGP:
		return "EGP"
	case OriginUNK:
		return "UNK"
	default:
		return "UNK"
	}
}

// Route is a candidate path to a (Network, Netmask) destination, as
// carried in the forwarding table and the update journal.
type Route struct {
	Network    uint32
	Netmask    uint32
	LocalPref  int
	ASPath     []int
	Origin     Origin
	SelfOrigin bool
	// Peer is the neighbor this route was learned from, and the neighbor
	// data destined for this route's prefix is forwarded to. Every
	// relation lookup for a route goes through Peer — spec §9 singles
	// this out: no synthetic per-network relation table.
	Peer uint32
}

// PfxLen is the route's prefix length, derived from Netmask.
func (r Route) PfxLen() uint8 {
	return ipaddr.PrefixLength(r.Netmask)
}

// AttrsEqual reports whether r and o carry identical (local-pref, origin,
// AS-path, self-origin) attributes — the equality aggregate.Aggregate
// groups routes by, per spec §4.6 step 2 and §3's aggregation invariant.
// Peer is deliberately excluded, per spec §9's next-hop-inheritance note.
func (r Route) AttrsEqual(o Route) bool {
	if r.LocalPref != o.LocalPref || r.Origin != o.Origin || r.SelfOrigin != o.SelfOrigin {
		return false
	}
	if len(r.ASPath) != len(o.ASPath) {
		return false
	}
	for i, v := range r.ASPath {
		if o.ASPath[i] != v {
			return false
		}
	}
	return true
}

// Key identifies a forwarding-table entry: a (network, netmask) prefix.
type Key struct {
	Network uint32
	Netmask uint32
}
