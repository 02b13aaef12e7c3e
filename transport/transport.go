// Package transport implements the UDP-over-loopback wire transport (spec
// §6): one socket per neighbor, bound to an ephemeral local port, talking
// to the neighbor's fixed localhost:PORT. Per-neighbor reads run as
// separate goroutines supervised by an errgroup.Group, each one pushing
// raw datagrams into the daemon's single dispatch queue — this is the
// Go-idiomatic rendering of "multiplex all neighbor sockets with a small
// poll timeout" (spec §5), without a literal poll(2) loop.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kelveyn/pathd/ipaddr"
)

// maxDatagram is the largest UDP payload spec §6 allows.
const maxDatagram = 65535

// Socket is one neighbor's UDP session: an ephemeral local port, initially
// targeting the neighbor's configured localhost:port. Because our own
// bind is ephemeral, the neighbor can only learn our real source port
// from a packet we send it — so remote is updated to the source address
// of every inbound datagram, self-healing the rendezvous after the first
// exchange instead of trusting the configured port forever.
type Socket struct {
	neighbor uint32
	conn     *net.UDPConn

	mu     sync.Mutex
	remote *net.UDPAddr
}

// Open binds an ephemeral local UDP port and records the neighbor's
// configured localhost:port as the initial remote endpoint. The neighbor
// identifier id is the neighbor's IPv4 address as given on the command
// line; it is only used for logging and for tagging inbound datagrams at
// the Serve boundary.
func Open(id uint32, port int) (*Socket, error) {
	local, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("transport: open socket for neighbor %s: %w", ipaddr.ToDotted(id), err)
	}
	return &Socket{
		neighbor: id,
		conn:     local,
		remote:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}, nil
}

// Send writes payload to the neighbor's current remote endpoint.
func (s *Socket) Send(payload []byte) error {
	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	_, err := s.conn.WriteToUDP(payload, remote)
	return err
}

// Close releases the local socket, unblocking any pending ReadFromUDP.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalPort reports the ephemeral port the OS assigned. Exposed for
// tests that wire two Sockets to each other without a fixed port.
func (s *Socket) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetRemote overrides the current remote port, leaving the loopback
// address unchanged. Exposed for tests and in-process harnesses that
// cross-wire two ephemeral-bound Sockets before either side has sent a
// packet for the read-loop's source-learning in readLoop to take over.
func (s *Socket) SetRemote(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// Submit is the callback Serve invokes with the raw bytes of every
// received datagram — the daemon wires this to (*daemon.Core).Submit,
// which decodes it.
type Submit func(srcif uint32, raw []byte)

// Serve runs one reader goroutine per socket, supervised by an
// errgroup.Group, each pushing inbound datagrams to submit. It blocks
// until ctx is cancelled, at which point every socket is closed (which
// unblocks the in-flight ReadFromUDP calls) and waits for all reader
// goroutines to return before returning itself — no goroutine outlives
// Serve.
func Serve(ctx context.Context, sockets []*Socket, submit Submit) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sock := range sockets {
		sock := sock
		g.Go(func() error {
			return readLoop(gctx, sock, submit)
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			for _, sock := range sockets {
				_ = sock.Close()
			}
		case <-done:
		}
	}()

	return g.Wait()
}

func readLoop(ctx context.Context, sock *Socket, submit Submit) error {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := sock.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: read from neighbor %s: %w", ipaddr.ToDotted(sock.neighbor), err)
		}
		sock.mu.Lock()
		sock.remote = addr
		sock.mu.Unlock()

		msg := make([]byte, n)
		copy(msg, buf[:n])
		submit(sock.neighbor, msg)
	}
}
