// Package aggregate implements iterative pairwise aggregation of
// adjacent, equal-attribute prefixes in the forwarding table (spec §4.6).
//
// The pairwise merge loop itself is delegated to
// github.com/cilium/cilium/pkg/ip's CoalesceCIDRs, called once per
// attribute-equality bucket: CoalesceCIDRs already implements "repeatedly
// merge adjacent equal-size CIDRs into a shorter mask until no merge
// applies", which is exactly spec §4.6 steps 2-4 restricted to a single
// bucket of attribute-identical routes.
package aggregate

import (
	"net"
	"sort"

	ciliumip "github.com/cilium/cilium/pkg/ip"
	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
)

// attrKey groups routes that are candidates to merge together: spec §4.6
// step 2's "attributes {local-pref, origin, AS-path, self-origin} are
// identical" condition, reduced to a comparable value.
type attrKey struct {
	localPref  int
	origin     state.Origin
	selfOrigin bool
	asPath     string // joined AS-path, order-sensitive
}

func keyFor(r state.Route) attrKey {
	buf := make([]byte, 0, len(r.ASPath)*4)
	for _, asn := range r.ASPath {
		buf = append(buf, byte(asn>>24), byte(asn>>16), byte(asn>>8), byte(asn))
	}
	return attrKey{
		localPref:  r.LocalPref,
		origin:     r.Origin,
		selfOrigin: r.SelfOrigin,
		asPath:     string(buf),
	}
}

// Aggregate flattens routes, groups them by identical BGP attributes, and
// merges each group's prefixes down to their minimal covering set via
// CoalesceCIDRs, reconstituting Routes for the merged prefixes. The
// result is the new, complete forwarding-table contents — callers pass it
// to rtable.Table.Reset.
//
// A merged route's attributes are copied from its bucket (all members
// agree by construction); its Peer inherits from the numerically lowest
// Peer among the constituent routes the merged prefix covers — a
// deterministic resolution of spec §9's next-hop-inheritance note.
func Aggregate(routes []state.Route) []state.Route {
	buckets := make(map[attrKey][]state.Route)
	for _, r := range routes {
		k := keyFor(r)
		buckets[k] = append(buckets[k], r)
	}

	var out []state.Route
	for _, bucket := range buckets {
		out = append(out, aggregateBucket(bucket)...)
	}
	// Bucket iteration order is map-random; sort the merged result by
	// network. rtable.Table does not keep this order once the result is
	// passed to Reset (Flatten iterates a map).
	sortByNetwork(out)
	return out
}

func aggregateBucket(bucket []state.Route) []state.Route {
	nets := make([]*net.IPNet, len(bucket))
	for i, r := range bucket {
		nets[i] = toIPNet(r.Network, r.Netmask)
	}

	merged, _ := ciliumip.CoalesceCIDRs(nets)

	out := make([]state.Route, 0, len(merged))
	for _, m := range merged {
		network, netmask := fromIPNet(m)
		attrs := bucket[0]
		peer := lowestCoveringPeer(bucket, network, netmask)
		out = append(out, state.Route{
			Network:    network,
			Netmask:    netmask,
			LocalPref:  attrs.LocalPref,
			ASPath:     attrs.ASPath,
			Origin:     attrs.Origin,
			SelfOrigin: attrs.SelfOrigin,
			Peer:       peer,
		})
	}
	return out
}

// lowestCoveringPeer returns the smallest Peer among bucket's routes
// whose original (network, netmask) falls within the merged
// (network, netmask).
func lowestCoveringPeer(bucket []state.Route, network, netmask uint32) uint32 {
	var (
		best  uint32
		found bool
	)
	for _, r := range bucket {
		if !ipaddr.InNetwork(r.Network, network, netmask) {
			continue
		}
		if !found || r.Peer < best {
			best = r.Peer
			found = true
		}
	}
	return best
}

func toIPNet(network, netmask uint32) *net.IPNet {
	return &net.IPNet{
		IP:   net.IPv4(byte(network>>24), byte(network>>16), byte(network>>8), byte(network)),
		Mask: net.CIDRMask(int(ipaddr.PrefixLength(netmask)), 32),
	}
}

func fromIPNet(n *net.IPNet) (network, netmask uint32) {
	ip4 := n.IP.To4()
	network = uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
	ones, _ := n.Mask.Size()
	return network, ipaddr.MaskFromLength(uint8(ones))
}

// sortByNetwork sorts routes by ascending network address, the order
// spec §4.6 step 1 requires before scanning for adjacent pairs —
// CoalesceCIDRs sorts internally per bucket, but Aggregate's bucket
// iteration order is map-random, so the combined output gets its own
// final sort. Routes sharing a network keep no defined relative order.
func sortByNetwork(routes []state.Route) {
	sort.Slice(routes, func(i, j int) bool { return routes[i].Network < routes[j].Network })
}
