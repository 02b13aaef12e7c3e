// Package cmd implements the daemon's command-line entrypoint (spec §6):
// a single positional ASN followed by one or more
// PORT-NEIGHBOR_IP-RELATION neighbor descriptors, built on
// github.com/spf13/cobra the way the teacher's CLI is built.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kelveyn/pathd/config"
	"github.com/kelveyn/pathd/daemon"
	"github.com/kelveyn/pathd/ipaddr"
	"github.com/kelveyn/pathd/state"
	"github.com/kelveyn/pathd/transport"
	"github.com/kelveyn/pathd/wire"
)

var (
	configPath string
	logPath    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pathd ASN PORT-NEIGHBOR_IP-RELATION...",
	Short: "A single-AS BGP-style path-vector routing daemon",
	Args:  cobra.MinimumNArgs(2),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional YAML neighbor-override file")
	rootCmd.Flags().StringVar(&logPath, "log-file", "", "also write structured logs to this file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

// Execute runs the root command. Returns a non-zero process exit code on
// bootstrap failure, per spec §6; normal termination (SIGINT/SIGTERM) is
// exit 0.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func run(cmd *cobra.Command, args []string) error {
	asn, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid ASN %q: %w", args[0], err)
	}

	descriptors, err := parseDescriptors(args[1:])
	if err != nil {
		return err
	}

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return err
		}
		merged := config.Merge(toOverrides(descriptors), file.Neighbors)
		parsed, err := fromOverrides(merged)
		if err != nil {
			return err
		}
		return bootstrap(asn, parsed)
	}

	return bootstrap(asn, descriptors)
}

// neighborDescriptor is the parsed form of one PORT-NEIGHBOR_IP-RELATION
// token or YAML override entry.
type neighborDescriptor struct {
	Port     int
	Address  uint32
	Relation state.Relation
}

func parseDescriptors(tokens []string) ([]neighborDescriptor, error) {
	out := make([]neighborDescriptor, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.SplitN(tok, "-", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid neighbor descriptor %q: want PORT-NEIGHBOR_IP-RELATION", tok)
		}
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid neighbor descriptor %q: bad port: %w", tok, err)
		}
		addr, err := ipaddr.ToInt(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid neighbor descriptor %q: bad address: %w", tok, err)
		}
		rel, ok := state.ParseRelation(parts[2])
		if !ok {
			return nil, fmt.Errorf("invalid neighbor descriptor %q: unknown relation %q", tok, parts[2])
		}
		out = append(out, neighborDescriptor{Port: port, Address: addr, Relation: rel})
	}
	return out, nil
}

func toOverrides(descs []neighborDescriptor) []config.NeighborOverride {
	out := make([]config.NeighborOverride, 0, len(descs))
	for _, d := range descs {
		out = append(out, config.NeighborOverride{
			Port:     d.Port,
			Address:  ipaddr.ToDotted(d.Address),
			Relation: d.Relation.String(),
		})
	}
	return out
}

func fromOverrides(overrides []config.NeighborOverride) ([]neighborDescriptor, error) {
	out := make([]neighborDescriptor, 0, len(overrides))
	for _, o := range overrides {
		addr, err := ipaddr.ToInt(o.Address)
		if err != nil {
			return nil, fmt.Errorf("config: bad address %q: %w", o.Address, err)
		}
		rel, ok := state.ParseRelation(o.Relation)
		if !ok {
			return nil, fmt.Errorf("config: unknown relation %q for %s", o.Relation, o.Address)
		}
		out = append(out, neighborDescriptor{Port: o.Port, Address: addr, Relation: rel})
	}
	return out, nil
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level: level,
		}),
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err == nil {
			handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// bootstrap opens one UDP socket per neighbor, builds the daemon core,
// sends the startup handshake, and runs the dispatch and transport loops
// until SIGINT/SIGTERM or a fatal error.
func bootstrap(asn int, descs []neighborDescriptor) error {
	log := buildLogger()

	var neighbors []*state.Neighbor
	var sockets []*transport.Socket
	for _, d := range descs {
		sock, err := transport.Open(d.Address, d.Port)
		if err != nil {
			return err
		}
		sockets = append(sockets, sock)
		neighbors = append(neighbors, &state.Neighbor{
			ID:       d.Address,
			Local:    state.LocalAddress(d.Address),
			Relation: d.Relation,
			Send:     sock.Send,
		})
	}

	registry := state.NewRegistry(neighbors...)
	core := daemon.New(asn, registry, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigc:
			log.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, n := range neighbors {
		sendHandshake(n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		core.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return transport.Serve(gctx, sockets, core.Submit)
	})

	log.Info("pathd started", "asn", asn, "neighbors", len(neighbors))
	return g.Wait()
}

func sendHandshake(n *state.Neighbor) {
	msg := wire.Message{
		Type: wire.TypeHandshake,
		Src:  ipaddr.ToDotted(n.Local),
		Dst:  ipaddr.ToDotted(n.ID),
	}
	raw, err := wire.Encode(msg)
	if err != nil {
		return
	}
	_ = n.Send(raw)
}
