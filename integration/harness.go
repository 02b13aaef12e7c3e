//go:build integration

// Package integration wires multiple daemon.Core instances together over
// real loopback UDP sockets to exercise the end-to-end scenarios in
// spec.md §8, following the teacher's harness pattern
// (encodeous-nylon/integration/harness.go) generalized from a
// WireGuard-mesh harness to a BGP-lite one: build a topology of nodes and
// links, start every node's dispatch + transport loop, then drive it with
// direct UDP probes standing in for the test operator. Like the
// teacher's harness, this package reports failures as plain errors —
// only the `_test.go` files know about *testing.T.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kelveyn/pathd/daemon"
	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
	"github.com/kelveyn/pathd/transport"
	"github.com/kelveyn/pathd/wire"
)

// Node is one running daemon in the harness, addressable by other nodes
// and probes under id.
type Node struct {
	ID      uint32
	ASN     int
	Core    *daemon.Core
	sockets []*transport.Socket

	pendingNeighbors []pendingNeighbor
}

type pendingNeighbor struct {
	id   uint32
	rel  state.Relation
	send func([]byte) error
}

// Harness owns a fixed set of Nodes and their interconnecting Sockets,
// plus the errgroup running every node's dispatch and transport loop.
type Harness struct {
	Nodes []*Node

	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewHarness allocates n nodes, numbered 192.168.0.1 .. 192.168.0.n, each
// with its own ASN and an empty neighbor set. Call Link to wire edges
// before Start.
func NewHarness(asns []int) (*Harness, error) {
	h := &Harness{}
	for i, asn := range asns {
		id, err := ipaddr.ToInt(fmt.Sprintf("192.168.0.%d", i+1))
		if err != nil {
			return nil, fmt.Errorf("integration: building node address: %w", err)
		}
		h.Nodes = append(h.Nodes, &Node{ID: id, ASN: asn})
	}
	return h, nil
}

// Link wires a and b (indices into h.Nodes) as neighbors of each other
// with the given relation observed from each side, opening a matched
// pair of loopback Sockets and cross-wiring their ephemeral ports
// directly (the harness plays the role the configured PORT argument
// plays in a real two-process deployment).
func (h *Harness) Link(a, b int, relAtoB, relBtoA state.Relation) error {
	na, nb := h.Nodes[a], h.Nodes[b]

	sockOnA, err := transport.Open(nb.ID, 0)
	if err != nil {
		return fmt.Errorf("integration: opening socket on node %d for neighbor %d: %w", a, b, err)
	}
	sockOnB, err := transport.Open(na.ID, 0)
	if err != nil {
		return fmt.Errorf("integration: opening socket on node %d for neighbor %d: %w", b, a, err)
	}
	sockOnA.SetRemote(sockOnB.LocalPort())
	sockOnB.SetRemote(sockOnA.LocalPort())

	na.sockets = append(na.sockets, sockOnA)
	na.pendingNeighbors = append(na.pendingNeighbors, pendingNeighbor{id: nb.ID, rel: relAtoB, send: sockOnA.Send})
	nb.sockets = append(nb.sockets, sockOnB)
	nb.pendingNeighbors = append(nb.pendingNeighbors, pendingNeighbor{id: na.ID, rel: relBtoA, send: sockOnB.Send})
	return nil
}

// Start builds each node's registry and daemon.Core from its linked
// neighbors, sends the startup handshake, and launches every node's
// dispatch loop and transport.Serve under a shared errgroup.
func (h *Harness) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	h.g = g

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, n := range h.Nodes {
		var neighbors []*state.Neighbor
		for _, p := range n.pendingNeighbors {
			neighbors = append(neighbors, &state.Neighbor{
				ID:       p.id,
				Local:    state.LocalAddress(p.id),
				Relation: p.rel,
				Send:     p.send,
			})
		}
		registry := state.NewRegistry(neighbors...)
		n.Core = daemon.New(n.ASN, registry, log)

		for _, nb := range neighbors {
			msg := wire.Message{Type: wire.TypeHandshake, Src: ipaddr.ToDotted(nb.Local), Dst: ipaddr.ToDotted(nb.ID)}
			raw, _ := wire.Encode(msg)
			_ = nb.Send(raw)
		}

		n := n
		g.Go(func() error {
			n.Core.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return transport.Serve(gctx, n.sockets, n.Core.Submit)
		})
	}

	// Let the handshake datagrams settle before a test starts driving
	// traffic through the topology.
	time.Sleep(50 * time.Millisecond)
}

// Stop cancels every node's context and waits for clean shutdown.
func (h *Harness) Stop() error {
	h.cancel()
	return h.g.Wait()
}

// Probe is a standalone UDP endpoint standing in for an external test
// operator or an unmodeled neighbor, used to inject wire messages
// directly at a node and observe its replies.
type Probe struct {
	conn   *net.UDPConn
	target *net.UDPAddr
}

// NewProbe opens an ephemeral socket and directs it at node's socket for
// neighborIdx (an index into the Sockets the harness opened for that
// node, in Link-call order), taking over that link in place of the
// node's real counterpart.
func NewProbe(node *Node, neighborIdx int) (*Probe, error) {
	local, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("integration: probe listen: %w", err)
	}
	targetPort := node.sockets[neighborIdx].LocalPort()
	p := &Probe{conn: local, target: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: targetPort}}
	node.sockets[neighborIdx].SetRemote(local.LocalAddr().(*net.UDPAddr).Port)
	return p, nil
}

// Send writes msg to the probe's target node.
func (p *Probe) Send(msg wire.Message) error {
	raw, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("integration: encoding probe message: %w", err)
	}
	_, err = p.conn.WriteToUDP(raw, p.target)
	return err
}

// Recv blocks up to timeout for the next reply, returning ok=false on a
// plain read-deadline timeout (the expected case for asserting a
// neighbor stayed silent) and a non-nil error only for a genuine decode
// or socket failure.
func (p *Probe) Recv(timeout time.Duration) (wire.Message, bool, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 65535)
	n, _, err := p.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return wire.Message{}, false, nil
		}
		return wire.Message{}, false, err
	}
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		return wire.Message{}, false, err
	}
	return msg, true, nil
}

// Close releases the probe's socket.
func (p *Probe) Close() error {
	return p.conn.Close()
}
