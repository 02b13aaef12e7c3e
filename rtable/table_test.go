package rtable

import (
	"testing"

	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
)

func ip(t *testing.T, s string) uint32 {
	t.Helper()
	v, err := ipaddr.ToInt(s)
	if err != nil {
		t.Fatalf("ToInt(%q): %v", s, err)
	}
	return v
}

func TestInsertAndLookup(t *testing.T) {
	tbl := New()
	net := ip(t, "10.0.0.0")
	mask := ipaddr.MaskFromLength(16)
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: ip(t, "192.0.2.2")})

	dst := ip(t, "10.0.5.5")
	got := tbl.Lookup(dst)
	if len(got) != 1 {
		t.Fatalf("Lookup returned %d routes, want 1", len(got))
	}

	fast := tbl.LookupFast(dst)
	if len(fast) != 1 {
		t.Fatalf("LookupFast returned %d routes, want 1", len(fast))
	}
}

func TestInsertSamePeerOverwrites(t *testing.T) {
	tbl := New()
	net := ip(t, "10.0.0.0")
	mask := ipaddr.MaskFromLength(24)
	peer := ip(t, "192.0.2.2")
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: peer, LocalPref: 100})
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: peer, LocalPref: 200})

	bucket := tbl.All()[state.Key{Network: net, Netmask: mask}]
	if len(bucket) != 1 {
		t.Fatalf("expected 1 route after same-peer overwrite, got %d", len(bucket))
	}
	if bucket[0].LocalPref != 200 {
		t.Errorf("expected overwritten LocalPref=200, got %d", bucket[0].LocalPref)
	}
}

func TestInsertDistinctPeersCoexist(t *testing.T) {
	tbl := New()
	net := ip(t, "10.0.0.0")
	mask := ipaddr.MaskFromLength(24)
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: ip(t, "192.0.2.2")})
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: ip(t, "198.51.100.2")})

	bucket := tbl.All()[state.Key{Network: net, Netmask: mask}]
	if len(bucket) != 2 {
		t.Fatalf("expected 2 coexisting routes, got %d", len(bucket))
	}
}

func TestRemoveByPeer(t *testing.T) {
	tbl := New()
	net := ip(t, "10.0.0.0")
	mask := ipaddr.MaskFromLength(24)
	peerA := ip(t, "192.0.2.2")
	peerB := ip(t, "198.51.100.2")
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: peerA})
	tbl.Insert(state.Route{Network: net, Netmask: mask, Peer: peerB})

	if !tbl.RemoveByPeer(net, mask, peerA) {
		t.Fatalf("RemoveByPeer should report true when a route was removed")
	}
	bucket := tbl.All()[state.Key{Network: net, Netmask: mask}]
	if len(bucket) != 1 || bucket[0].Peer != peerB {
		t.Fatalf("expected only peerB route to remain, got %+v", bucket)
	}

	if !tbl.RemoveByPeer(net, mask, peerB) {
		t.Fatalf("RemoveByPeer should report true for the last route too")
	}
	if _, ok := tbl.All()[state.Key{Network: net, Netmask: mask}]; ok {
		t.Fatalf("key should be gone once its bucket is empty")
	}
	if got := tbl.LookupFast(ip(t, "10.0.0.5")); got != nil {
		t.Fatalf("LookupFast should find nothing once the entry is gone, got %v", got)
	}
}

func TestLongestPrefixMatch(t *testing.T) {
	tbl := New()
	tbl.Insert(state.Route{Network: ip(t, "10.0.0.0"), Netmask: ipaddr.MaskFromLength(8), Peer: ip(t, "1.1.1.1")})
	tbl.Insert(state.Route{Network: ip(t, "10.1.0.0"), Netmask: ipaddr.MaskFromLength(16), Peer: ip(t, "2.2.2.2")})

	dst := ip(t, "10.1.2.3")
	got := tbl.LookupFast(dst)
	if len(got) != 1 || got[0].Netmask != ipaddr.MaskFromLength(16) {
		t.Fatalf("expected the /16 match, got %+v", got)
	}
}

func TestResetReplacesTable(t *testing.T) {
	tbl := New()
	tbl.Insert(state.Route{Network: ip(t, "10.0.0.0"), Netmask: ipaddr.MaskFromLength(24), Peer: ip(t, "1.1.1.1")})

	tbl.Reset([]state.Route{
		{Network: ip(t, "192.168.0.0"), Netmask: ipaddr.MaskFromLength(24), Peer: ip(t, "2.2.2.2")},
	})

	if len(tbl.All()) != 1 {
		t.Fatalf("Reset should have replaced the table wholesale")
	}
	if got := tbl.LookupFast(ip(t, "10.0.0.5")); got != nil {
		t.Fatalf("old entries should be gone after Reset, got %v", got)
	}
}
