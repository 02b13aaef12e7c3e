package state

// JournalEntry is one accepted announcement, retained so the forwarding
// table can be rebuilt after a withdrawal invalidates an aggregate (spec
// §4.4 step 3, §9's rebuild-on-withdraw fix).
type JournalEntry struct {
	Src   uint32 // the neighbor interface this update arrived on
	Route Route
}

// Journal is the ordered log of accepted announcements, in arrival order
// (spec §3).
type Journal struct {
	entries []JournalEntry
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records an accepted announcement.
func (j *Journal) Append(e JournalEntry) {
	j.entries = append(j.entries, e)
}

// RemoveMatching deletes every entry whose Src equals src and whose route
// key equals (network, netmask), per spec §4.4 step 2.
func (j *Journal) RemoveMatching(src uint32, network, netmask uint32) {
	kept := j.entries[:0]
	for _, e := range j.entries {
		if e.Src == src && e.Route.Network == network && e.Route.Netmask == netmask {
			continue
		}
		kept = append(kept, e)
	}
	j.entries = kept
}

// Entries returns the journal contents in arrival order. The returned
// slice must not be mutated by callers.
func (j *Journal) Entries() []JournalEntry {
	return j.entries
}

// Len reports the number of retained entries.
func (j *Journal) Len() int {
	return len(j.entries)
}
