package cmd

import (
	"testing"

	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
)

func TestParseDescriptorsAcceptsWellFormedTokens(t *testing.T) {
	descs, err := parseDescriptors([]string{"6000-192.0.2.2-cust", "6001-198.51.100.2-peer"})
	if err != nil {
		t.Fatalf("parseDescriptors: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].Port != 6000 || descs[0].Relation != state.RelationCustomer {
		t.Errorf("unexpected first descriptor: %+v", descs[0])
	}
	wantAddr, _ := ipaddr.ToInt("198.51.100.2")
	if descs[1].Address != wantAddr || descs[1].Relation != state.RelationPeer {
		t.Errorf("unexpected second descriptor: %+v", descs[1])
	}
}

func TestParseDescriptorsRejectsMalformedToken(t *testing.T) {
	if _, err := parseDescriptors([]string{"not-enough"}); err == nil {
		t.Fatal("expected error for token missing a field")
	}
}

func TestParseDescriptorsRejectsUnknownRelation(t *testing.T) {
	if _, err := parseDescriptors([]string{"6000-192.0.2.2-friend"}); err == nil {
		t.Fatal("expected error for unknown relation token")
	}
}

func TestParseDescriptorsRejectsBadAddress(t *testing.T) {
	if _, err := parseDescriptors([]string{"6000-not-an-ip-cust"}); err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestOverrideRoundTrip(t *testing.T) {
	descs, err := parseDescriptors([]string{"6000-192.0.2.2-cust"})
	if err != nil {
		t.Fatalf("parseDescriptors: %v", err)
	}
	overrides := toOverrides(descs)
	back, err := fromOverrides(overrides)
	if err != nil {
		t.Fatalf("fromOverrides: %v", err)
	}
	if len(back) != 1 || back[0].Port != descs[0].Port || back[0].Address != descs[0].Address || back[0].Relation != descs[0].Relation {
		t.Errorf("round trip mismatch: got %+v, want %+v", back[0], descs[0])
	}
}
