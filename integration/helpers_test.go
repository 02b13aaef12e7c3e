//go:build integration

package integration_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kelveyn/pathd/integration"
	"github.com/kelveyn/pathd/wire"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling test fixture: %v", err)
	}
	return raw
}

func decodePropagated(msg json.RawMessage) (wire.PropagatedUpdate, error) {
	var body wire.PropagatedUpdate
	err := json.Unmarshal(msg, &body)
	return body, err
}

func decodeEntries(t *testing.T, msg json.RawMessage) []wire.RouteEntry {
	t.Helper()
	var entries []wire.RouteEntry
	if err := json.Unmarshal(msg, &entries); err != nil {
		t.Fatalf("decoding table entries: %v", err)
	}
	return entries
}

func newProbe(t *testing.T, node *integration.Node, neighborIdx int) *integration.Probe {
	t.Helper()
	p, err := integration.NewProbe(node, neighborIdx)
	if err != nil {
		t.Fatalf("NewProbe: %v", err)
	}
	return p
}

func send(t *testing.T, p *integration.Probe, msg wire.Message) {
	t.Helper()
	if err := p.Send(msg); err != nil {
		t.Fatalf("sending probe message: %v", err)
	}
}

// recv blocks for timeout and fails the test if no reply (or a decode
// error) arrives.
func recv(t *testing.T, p *integration.Probe, timeout time.Duration) wire.Message {
	t.Helper()
	msg, ok, err := p.Recv(timeout)
	if err != nil {
		t.Fatalf("waiting for probe reply: %v", err)
	}
	if !ok {
		t.Fatalf("no probe reply within %s", timeout)
	}
	return msg
}

// drainUpdate consumes one propagated update message a probe is expected
// to have received as a side effect of another probe's announcement,
// so it isn't mistaken later for the message under test.
func drainUpdate(t *testing.T, p *integration.Probe) {
	t.Helper()
	got := recv(t, p, recvTimeout)
	if got.Type != wire.TypeUpdate {
		t.Fatalf("expected to drain a propagated update, got type %q", got.Type)
	}
}

// assertSilent fails the test if probe receives anything within window —
// used to confirm an update or forward was correctly withheld.
func assertSilent(t *testing.T, p *integration.Probe, window time.Duration) {
	t.Helper()
	msg, ok, err := p.Recv(window)
	if err != nil {
		t.Fatalf("waiting for silence: %v", err)
	}
	if ok {
		t.Fatalf("expected no message, got type %q", msg.Type)
	}
}
