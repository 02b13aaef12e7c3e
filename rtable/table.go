// Package rtable implements the forwarding table: a (network, netmask)
// keyed multiset of candidate Routes, plus the longest-prefix-match index
// the data plane (spec §4.5) needs.
package rtable

import (
	"net/netip"

	"github.com/gaissmai/bart"
	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
)

// Table is the canonical forwarding table. The map is the single source
// of truth for insert/remove/enumerate/aggregate; the bart index is a
// derived cache rebuilt on every mutation, used only for the
// longest-prefix-match lookups the data plane needs. Not safe for
// concurrent use — callers must serialize access (the daemon's single
// dispatch goroutine does this).
type Table struct {
	entries map[state.Key][]state.Route
	lpm     bart.Table[[]state.Route]
}

// New returns an empty forwarding table.
func New() *Table {
	return &Table{entries: make(map[state.Key][]state.Route)}
}

// Insert adds or replaces route under its (network, netmask) key.
// Duplicates from the same peer overwrite the prior entry for that peer,
// per spec §4.3 step 1; routes from distinct peers coexist.
func (t *Table) Insert(route state.Route) {
	key := state.Key{Network: route.Network, Netmask: route.Netmask}
	bucket := t.entries[key]
	replaced := false
	for i, r := range bucket {
		if r.Peer == route.Peer {
			bucket[i] = route
			replaced = true
			break
		}
	}
	if !replaced {
		bucket = append(bucket, route)
	}
	t.entries[key] = bucket
	t.reindex(key)
}

// RemoveByPeer removes, from the (network, netmask) bucket, any route
// whose Peer equals peer. Returns true if anything was removed.
func (t *Table) RemoveByPeer(network, netmask, peer uint32) bool {
	key := state.Key{Network: network, Netmask: netmask}
	bucket, ok := t.entries[key]
	if !ok {
		return false
	}
	kept := bucket[:0]
	removed := false
	for _, r := range bucket {
		if r.Peer == peer {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		delete(t.entries, key)
		t.lpm.Delete(prefixFor(network, netmask))
		return removed
	}
	t.entries[key] = kept
	t.reindex(key)
	return removed
}

// reindex refreshes the bart LPM cache entry for key from the canonical
// map, or removes it if the bucket is now empty.
func (t *Table) reindex(key state.Key) {
	bucket, ok := t.entries[key]
	if !ok || len(bucket) == 0 {
		t.lpm.Delete(prefixFor(key.Network, key.Netmask))
		return
	}
	t.lpm.Insert(prefixFor(key.Network, key.Netmask), bucket)
}

// Reset replaces the table contents wholesale, used to install
// aggregate.Aggregate's result and by journal-replay rebuilds (spec §4.4
// step 3).
func (t *Table) Reset(routes []state.Route) {
	t.entries = make(map[state.Key][]state.Route)
	t.lpm = bart.Table[[]state.Route]{}
	for _, r := range routes {
		t.Insert(r)
	}
}

// Lookup returns every candidate Route across every (network, netmask)
// key that contains dst — spec §4.5 step 1 ("enumerate all table keys for
// which in_network(dst, network, netmask) holds").
func (t *Table) Lookup(dst uint32) []state.Route {
	var out []state.Route
	for key, bucket := range t.entries {
		if ipaddr.InNetwork(dst, key.Network, key.Netmask) {
			out = append(out, bucket...)
		}
	}
	return out
}

// LookupFast is the bart-indexed longest-prefix-match lookup, returning
// only the routes at the single most-specific matching prefix. Used by
// the data plane when full enumeration (Lookup) is unnecessary — the
// decision engine's longest-prefix-match rule means the best route is
// always found within the longest matching prefix's bucket, so this is
// equivalent to Lookup followed by discarding shorter-prefix candidates,
// just without visiting them.
func (t *Table) LookupFast(dst uint32) []state.Route {
	addr := netip.AddrFrom4([4]byte{byte(dst >> 24), byte(dst >> 16), byte(dst >> 8), byte(dst)})
	routes, ok := t.lpm.Lookup(addr)
	if !ok {
		return nil
	}
	return routes
}

// All enumerates every (key, bucket) pair in the table, for the
// aggregator's flatten step and the operator dump.
func (t *Table) All() map[state.Key][]state.Route {
	return t.entries
}

// Flatten returns every Route in the table as a single slice, in no
// particular order — callers that need aggregate's network-ascending
// order must sort it themselves.
func (t *Table) Flatten() []state.Route {
	var out []state.Route
	for _, bucket := range t.entries {
		out = append(out, bucket...)
	}
	return out
}

func prefixFor(network, netmask uint32) netip.Prefix {
	addr := netip.AddrFrom4([4]byte{byte(network >> 24), byte(network >> 16), byte(network >> 8), byte(network)})
	return netip.PrefixFrom(addr, int(ipaddr.PrefixLength(netmask)))
}
