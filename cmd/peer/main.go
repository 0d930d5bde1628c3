// Command peer is a thin demo binary: it wires identity → transport →
// rendezvous → coordinator into a running facade and relays whatever
// arrives on stdin/stdout as newline-delimited JSON ControlMessages, so the
// overlay can be exercised from a terminal without a real media player or
// file index attached. With a nil fileindex.Index, inbound file-share
// requests surface on stdout as fileRequest/chunkRequest lines, and a
// fileResponse/chunkResponse line typed on stdin (carrying the same uuid)
// answers them, the same path an embedding application uses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/coordinator"
	"github.com/n0remac/syncroom/facade"
	"github.com/n0remac/syncroom/identity"
	"github.com/n0remac/syncroom/internal/logging"
	"github.com/n0remac/syncroom/rendezvous"
	"github.com/n0remac/syncroom/topic"
	"github.com/n0remac/syncroom/transport"
	"github.com/n0remac/syncroom/wire"
)

func main() {
	relay := flag.String("relay", "", "relay multiaddr, e.g. /ip4/1.2.3.4/tcp/4001/p2p/<id>")
	room := flag.String("room", "", "room name")
	password := flag.String("password", "", "room password")
	flag.Parse()

	if *relay == "" || *room == "" {
		fmt.Fprintln(os.Stderr, "usage: peer -relay <multiaddr> -room <name> -password <pw>")
		os.Exit(2)
	}

	log := logging.New("peer")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *relay, *room, *password, log.Named("run")); err != nil {
		log.Fatalw("peer exited with error", "error", err)
	}
}

func run(ctx context.Context, relayAddrStr, room, password string, log *zap.SugaredLogger) error {
	self, err := identity.Self()
	if err != nil {
		return fmt.Errorf("peer: identity: %w", err)
	}
	log.Infow("identity generated", "peer", self.String())

	relayAddr, err := ma.NewMultiaddr(relayAddrStr)
	if err != nil {
		return fmt.Errorf("peer: parse relay address: %w", err)
	}

	fabric, err := transport.New(ctx, transport.Options{PrivateKey: self.PrivateKey}, log.Named("transport"))
	if err != nil {
		return fmt.Errorf("peer: start transport: %w", err)
	}
	defer fabric.Close()

	result, err := rendezvous.Handshake(ctx, fabric, relayAddr, room, password, log.Named("rendezvous"))
	if err != nil {
		return fmt.Errorf("peer: rendezvous: %w", err)
	}

	topicID := topic.String(room, password)

	var fc *facade.Facade
	switch result.Role {
	case rendezvous.RoleHost:
		log.Infow("acting as host", "listen", result.ListenAddr)
		f, err := coordinator.StartHost(ctx, fabric, relayAddr, result.Relay, room, topicID, nil, log.Named("host"))
		if err != nil {
			return fmt.Errorf("peer: start host: %w", err)
		}
		fc = f
	case rendezvous.RoleClient:
		log.Infow("acting as client", "host", result.Host)
		f, err := coordinator.StartClient(ctx, fabric, relayAddr, result.Host, topicID, nil, log.Named("client"))
		if err != nil {
			return fmt.Errorf("peer: start client: %w", err)
		}
		fc = f
	}

	go readStdin(fc, log.Named("stdin"))
	writeStdout(ctx, fc)
	return nil
}

func readStdin(fc *facade.Facade, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		m, err := wire.DecodeJSON(scanner.Bytes())
		if err != nil {
			log.Warnw("stdin: undecodable line, skipping", "error", err)
			continue
		}
		fc.Send(m)
	}
	fc.Close()
}

func writeStdout(ctx context.Context, fc *facade.Facade) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for {
		m, ok := fc.Next()
		if !ok {
			return
		}
		data, err := wire.EncodeJSON(m, false)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteString("\n")
		w.Flush()
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
