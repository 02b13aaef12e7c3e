package state

import (
	"fmt"

	"github.com/kelveyn/pathd/ipaddr"
)

// Neighbor is a fixed BGP-lite session peer, created at startup and never
// destroyed (spec §3).
type Neighbor struct {
	// ID is the neighbor's logical name: its IPv4 address as given on the
	// command line.
	ID uint32
	// Local is the local-side interface address toward this neighbor:
	// ID with its last octet replaced by 1 (spec §6's addressing
	// convention).
	Local    uint32
	Relation Relation
	// Send transmits a raw JSON-encoded message to this neighbor. Wired
	// up by the transport package; nil for a Neighbor constructed only
	// for table lookups in tests.
	Send func(payload []byte) error
}

// LocalAddress derives the a.b.c.1 local-side interface address for a
// neighbor identified by id.
func LocalAddress(id uint32) uint32 {
	return id&0xffffff00 | 1
}

// Registry is the fixed, startup-populated set of neighbors a daemon
// maintains sessions with.
type Registry struct {
	byID map[uint32]*Neighbor
	// order preserves descriptor order for deterministic iteration, e.g.
	// when re-advertising to "every other neighbor".
	order []uint32
}

// NewRegistry builds a Registry from the given neighbors, keyed by ID.
func NewRegistry(neighbors ...*Neighbor) *Registry {
	r := &Registry{byID: make(map[uint32]*Neighbor, len(neighbors))}
	for _, n := range neighbors {
		r.byID[n.ID] = n
		r.order = append(r.order, n.ID)
	}
	return r
}

// Get looks up a neighbor by ID. ok is false for an unknown neighbor.
func (r *Registry) Get(id uint32) (*Neighbor, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Relation returns the relation of a known neighbor, or RelationPeer (the
// most conservative default for export purposes) plus false if id is
// unknown.
func (r *Registry) Relation(id uint32) (Relation, bool) {
	n, ok := r.byID[id]
	if !ok {
		return RelationPeer, false
	}
	return n.Relation, true
}

// All returns every neighbor in registration order.
func (r *Registry) All() []*Neighbor {
	out := make([]*Neighbor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Others returns every neighbor other than except, in registration order.
func (r *Registry) Others(except uint32) []*Neighbor {
	out := make([]*Neighbor, 0, len(r.order))
	for _, id := range r.order {
		if id != except {
			out = append(out, r.byID[id])
		}
	}
	return out
}

// String renders a neighbor as its dotted-quad ID followed by its
// relation in parentheses, for logging.
func (n *Neighbor) String() string {
	return fmt.Sprintf("%s(%s)", ipaddr.ToDotted(n.ID), n.Relation)
}
