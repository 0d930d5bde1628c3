// Package rendezvous implements the DIALING → IDENTIFIED → AUTHORIZING →
// {JOINING_AS_CLIENT, LISTENING_AS_HOST, FAILED} handshake: dial the
// relay, wait on the identify exchange and the authorisation round-trip in
// parallel, then either dial the announced host via the relay's circuit
// address or start listening on it as the new host.
package rendezvous

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/topic"
	"github.com/n0remac/syncroom/transport"
	"github.com/n0remac/syncroom/wire"
)

// State is the handshake's own small state machine, surfaced mainly for
// logging and tests; callers only ever observe the terminal Result or error.
type State int

const (
	StateDialing State = iota
	StateIdentified
	StateAuthorizing
	StateJoiningAsClient
	StateListeningAsHost
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "DIALING"
	case StateIdentified:
		return "IDENTIFIED"
	case StateAuthorizing:
		return "AUTHORIZING"
	case StateJoiningAsClient:
		return "JOINING_AS_CLIENT"
	case StateListeningAsHost:
		return "LISTENING_AS_HOST"
	default:
		return "FAILED"
	}
}

// Role is the outcome of a successful handshake.
type Role int

const (
	RoleHost Role = iota
	RoleClient
)

// Result is what a successful handshake hands back to the role dispatcher.
type Result struct {
	Role       Role
	Relay      peer.ID
	Host       peer.ID // valid only when Role == RoleClient
	ListenAddr ma.Multiaddr
}

// ErrAuthFailed is terminal: the relay rejected the room/password pair.
var ErrAuthFailed = fmt.Errorf("rendezvous: authorisation failed")

// Handshake runs the full sequence against relayAddr (a full multiaddr
// including the relay's /p2p/<id> suffix). The whole exchange shares one
// transport.RendezvousTimeout budget; expiry anywhere yields an error and
// no coordinator is ever constructed.
func Handshake(ctx context.Context, f *transport.Fabric, relayAddr ma.Multiaddr, room, password string, log *zap.SugaredLogger) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, transport.RendezvousTimeout)
	defer cancel()

	state := StateDialing
	log.Infow("rendezvous starting", "state", state.String(), "room", room)

	relayInfo, err := peer.AddrInfoFromP2pAddr(relayAddr)
	if err != nil {
		return Result{}, fmt.Errorf("rendezvous: parse relay address: %w", err)
	}

	if err := f.Host().Connect(ctx, *relayInfo); err != nil {
		return Result{}, fmt.Errorf("rendezvous: dial relay: %w", err)
	}

	identified := make(chan struct{})
	go awaitIdentify(ctx, f, relayInfo.ID, identified)

	key := topic.NewRoomKey(room, password)
	authResult := make(chan wire.InitResponse, 1)
	authErr := make(chan error, 1)
	go func() {
		resp, err := requestAuthorisation(ctx, f, relayInfo.ID, key)
		if err != nil {
			authErr <- err
			return
		}
		authResult <- resp
	}()

	var resp wire.InitResponse
	identifyDone := false
	for !identifyDone || resp.Status == "" {
		select {
		case <-identified:
			identifyDone = true
			state = StateIdentified
			log.Infow("rendezvous progress", "state", state.String())
		case r := <-authResult:
			resp = r
		case err := <-authErr:
			return Result{}, fmt.Errorf("rendezvous: authorisation request: %w", err)
		case <-ctx.Done():
			return Result{}, fmt.Errorf("rendezvous: %w", ctx.Err())
		}
	}

	state = StateAuthorizing
	log.Infow("rendezvous progress", "state", state.String(), "status", resp.Status)

	if resp.Status != wire.InitOk {
		return Result{}, fmt.Errorf("rendezvous: %w: status=%s", ErrAuthFailed, resp.Status)
	}

	if resp.PeerID != "" && resp.PeerID != f.Self().String() {
		hostID, err := peer.Decode(resp.PeerID)
		if err != nil {
			return Result{}, fmt.Errorf("rendezvous: decode host peer id: %w", err)
		}
		state = StateJoiningAsClient
		log.Infow("rendezvous progress", "state", state.String(), "host", hostID)

		circuit, err := circuitAddr(relayAddr, hostID)
		if err != nil {
			return Result{}, err
		}
		hostInfo, err := peer.AddrInfoFromP2pAddr(circuit)
		if err != nil {
			return Result{}, fmt.Errorf("rendezvous: parse circuit address: %w", err)
		}
		if err := f.Host().Connect(ctx, *hostInfo); err != nil {
			return Result{}, fmt.Errorf("rendezvous: dial host via circuit: %w", err)
		}
		f.AddToRoutingTable(hostID)
		return Result{Role: RoleClient, Relay: relayInfo.ID, Host: hostID, ListenAddr: circuit}, nil
	}

	state = StateListeningAsHost
	listenAddr, err := ma.NewMultiaddr(relayAddr.String() + "/p2p-circuit")
	if err != nil {
		return Result{}, fmt.Errorf("rendezvous: build circuit listen address: %w", err)
	}
	if err := f.Host().Network().Listen(listenAddr); err != nil {
		return Result{}, fmt.Errorf("rendezvous: listen on relay circuit: %w", err)
	}
	log.Infow("rendezvous progress", "state", state.String())
	return Result{Role: RoleHost, Relay: relayInfo.ID, ListenAddr: listenAddr}, nil
}

// circuitAddr builds <relay>/p2p-circuit/p2p/<host>.
func circuitAddr(relayAddr ma.Multiaddr, host peer.ID) (ma.Multiaddr, error) {
	full := fmt.Sprintf("%s/p2p-circuit/p2p/%s", relayAddr.String(), host.String())
	addr, err := ma.NewMultiaddr(full)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: build circuit address: %w", err)
	}
	return addr, nil
}

func requestAuthorisation(ctx context.Context, f *transport.Fabric, relay peer.ID, key topic.RoomKey) (wire.InitResponse, error) {
	req := wire.InitRequest{Room: key.Room, PasswordHash: key.PasswordHash}
	payload, err := wire.EncodeInitRequest(req)
	if err != nil {
		return wire.InitResponse{}, err
	}
	raw, err := f.Request(ctx, relay, transport.ProtoAuth, payload)
	if err != nil {
		return wire.InitResponse{}, err
	}
	return wire.DecodeInitResponse(raw)
}

// awaitIdentify blocks until the fabric reports the identify exchange with
// relay has completed, or ctx is done. go-libp2p's identify protocol is
// bidirectional by construction, so a single EventIdentifyCompleted stands
// in for both "we told the relay our observed address" and "the relay told
// us its view of us". No one else consumes f.Events() until the handshake
// hands off to a coordinator, so draining it here is safe; unrelated
// events seen during this short window are dropped.
func awaitIdentify(ctx context.Context, f *transport.Fabric, relay peer.ID, done chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-f.Events():
			if !ok {
				return
			}
			if evt.Kind == transport.EventIdentifyCompleted && evt.Peer == relay {
				select {
				case done <- struct{}{}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
