// Package policy implements the Gao-Rexford commercial-relationship
// export filter (spec §4.8).
package policy

import "github.com/kelveyn/pathd/state"

// ShouldExport reports whether a route learned from a neighbor of
// relation from should be re-advertised to a neighbor of relation to.
// Routes learned from customers are announced to everyone; routes
// learned from peers or providers are announced only to customers.
func ShouldExport(from, to state.Relation) bool {
	return from == state.RelationCustomer || to == state.RelationCustomer
}
