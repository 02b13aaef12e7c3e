package state

// Relation is the commercial relationship toward a neighbor, controlling
// export policy (policy.ShouldExport).
type Relation int

const (
	RelationCustomer Relation = iota
	RelationPeer
	RelationProvider
)

// ParseRelation parses the "cust" | "peer" | "prov" tokens used in the
// PORT-NEIGHBOR_IP-RELATION command-line descriptors.
func ParseRelation(s string) (Relation, bool) {
	switch s {
	case "cust":
		return RelationCustomer, true
	case "peer":
		return RelationPeer, true
	case "prov":
		return RelationProvider, true
	default:
		return 0, false
	}
}

func (r Relation) String() string {
	switch r {
	case RelationCustomer:
		return "cust"
	case RelationPeer:
		return "peer"
	case RelationProvider:
		return "prov"
	default:
		return "unknown"
	}
}
