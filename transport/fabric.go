// Package transport implements the overlay primitives the coordinators
// run on: keep-alive ping with RTT sampling, identify, pub/sub, directed
// request/response streams, and a content-routing DHT, plus relay-client,
// hole punching, and mDNS for NAT traversal and LAN discovery. A single
// go-libp2p host multiplexes all of it over QUIC and TCP+noise+yamux.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	libp2pping "github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"go.uber.org/zap"
)

// Protocol IDs. ProtoMessage, ProtoShare and ProtoAuth are registered as
// stream handlers; ProtoIdentify is declared but not registered, and
// identify runs on go-libp2p's built-in protocol ID.
const (
	ProtoIdentify = protocol.ID("/niketsu-identify/1")
	ProtoMessage  = protocol.ID("/niketsu-message/1")
	ProtoShare    = protocol.ID("/fileshare/1")
	ProtoAuth     = protocol.ID("/authorisation/1")

	mdnsServiceTag = "syncroom-mdns"

	PubsubDupCacheTTL = 60 * time.Second
	IdleConnTimeout   = 10 * time.Second
	HandshakeTimeout  = 10 * time.Second
	MessageTimeout    = 5 * time.Second
	RendezvousTimeout = 10 * time.Second

	// rttWeight is the EWMA weight for RTT smoothing; the client
	// coordinator's clock compensation rides on the estimate PingRTT
	// maintains with it, so a single slow ping can't whipsaw positions.
	rttWeight = 0.85
)

// Options configures fabric construction.
type Options struct {
	PrivateKey  crypto.PrivKey
	ListenAddrs []string // defaults to DefaultListenAddrs() if empty
}

// DefaultListenAddrs are the four listeners bound at startup: QUIC and TCP
// on both address families, all on ephemeral ports.
func DefaultListenAddrs() []string {
	return []string{
		"/ip4/0.0.0.0/udp/0/quic-v1",
		"/ip6/::/udp/0/quic-v1",
		"/ip4/0.0.0.0/tcp/0",
		"/ip6/::/tcp/0",
	}
}

// Fabric wraps a libp2p host with the primitives the rest of the module
// needs. It owns the DHT, the pub/sub cache, and the connection table
// exclusively; other packages reach the libp2p host only through Host(), to
// dial peers and to listen on the relay circuit.
type Fabric struct {
	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	ping   *libp2pping.PingService
	mdnsSvc mdns.Service
	log    *zap.SugaredLogger

	events chan Event

	rttMu  sync.RWMutex
	rttEst map[peer.ID]time.Duration

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic

	responsesMu sync.Mutex
	responses   map[string]chan []byte // correlation id -> inbound response channel; not read or written anywhere, since reqresp.go pairs each response with its request by stream

	provideMu sync.Mutex
	provide   map[string]providerHandle // filename -> reprovide loop cancel, used by dht.go
}

// New constructs a Fabric: binds QUIC + TCP listeners on 0.0.0.0/::, enables
// relay-client and hole punching for NAT traversal, starts mDNS for LAN
// discovery, and brings up gossipsub and a content-routing DHT.
func New(ctx context.Context, opts Options, log *zap.SugaredLogger) (*Fabric, error) {
	listenAddrs := opts.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = DefaultListenAddrs()
	}

	f := &Fabric{
		log:       log,
		events:    make(chan Event, 256),
		rttEst:    make(map[peer.ID]time.Duration),
		topics:    make(map[string]*pubsub.Topic),
		responses: make(map[string]chan []byte),
		provide:   make(map[string]providerHandle),
	}

	var kadDHT *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(opts.PrivateKey),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.EnableRelay(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			d, derr := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
			if derr != nil {
				return nil, derr
			}
			kadDHT = d
			return d, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: new host: %w", err)
	}
	f.host = h
	f.dht = kadDHT

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithSeenMessagesTTL(PubsubDupCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("transport: new gossipsub: %w", err)
	}
	f.pubsub = ps

	f.ping = libp2pping.NewPingService(h)

	svc := mdns.NewMdnsService(h, mdnsServiceTag, mdnsNotifee{f})
	if err := svc.Start(); err != nil {
		log.Warnw("mdns start failed, continuing without LAN discovery", "error", err)
	} else {
		f.mdnsSvc = svc
	}

	f.subscribeHostEvents(ctx)
	f.registerStreamHandlers()

	return f, nil
}

// Host exposes the underlying libp2p host for callers that need to dial
// directly (rendezvous's relay-circuit dial, fileshare's provider dial).
func (f *Fabric) Host() host.Host { return f.host }

// Events returns the channel of swarm events the role dispatcher
// multiplexes over.
func (f *Fabric) Events() <-chan Event { return f.events }

// Self returns this fabric's own peer ID.
func (f *Fabric) Self() peer.ID { return f.host.ID() }

// Close tears down mDNS, the DHT, and the host.
func (f *Fabric) Close() error {
	if f.mdnsSvc != nil {
		_ = f.mdnsSvc.Close()
	}
	if f.dht != nil {
		_ = f.dht.Close()
	}
	return f.host.Close()
}

func (f *Fabric) subscribeHostEvents(ctx context.Context) {
	sub, err := f.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtPeerIdentificationCompleted),
	})
	if err != nil {
		f.log.Errorw("subscribe host events failed", "error", err)
		return
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Out():
				if !ok {
					return
				}
				f.handleHostEvent(e)
			}
		}
	}()
}

func (f *Fabric) handleHostEvent(e interface{}) {
	switch evt := e.(type) {
	case event.EvtPeerConnectednessChanged:
		kind := EventConnectionClosed
		if evt.Connectedness == network.Connected {
			kind = EventConnectionEstablished
		}
		f.emit(Event{Kind: kind, Peer: evt.Peer, At: time.Now()})
	case event.EvtPeerIdentificationCompleted:
		f.emit(Event{Kind: EventIdentifyCompleted, Peer: evt.Peer, At: time.Now()})
	}
}

func (f *Fabric) emit(e Event) {
	select {
	case f.events <- e:
	default:
		f.log.Warnw("event queue full, dropping event", "kind", e.Kind, "peer", e.Peer)
	}
}

// Ping sends a single keep-alive ping to p and folds the RTT into the
// smoothed estimate PingRTT returns.
func (f *Fabric) Ping(ctx context.Context, p peer.ID) (time.Duration, error) {
	results := f.ping.Ping(ctx, p)
	select {
	case res := <-results:
		if res.Error != nil {
			return 0, fmt.Errorf("transport: ping %s: %w", p, res.Error)
		}
		f.recordRTT(p, res.RTT)
		return res.RTT, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *Fabric) recordRTT(p peer.ID, sample time.Duration) {
	f.rttMu.Lock()
	defer f.rttMu.Unlock()
	prev, ok := f.rttEst[p]
	if !ok {
		f.rttEst[p] = sample
		return
	}
	f.rttEst[p] = time.Duration(float64(prev)*rttWeight + float64(sample)*(1-rttWeight))
}

// PingRTT returns the smoothed round-trip time estimate for p, or false if
// no sample has ever been taken.
func (f *Fabric) PingRTT(p peer.ID) (time.Duration, bool) {
	f.rttMu.RLock()
	defer f.rttMu.RUnlock()
	d, ok := f.rttEst[p]
	return d, ok
}

// OneWayDelay estimates the smoothed one-way delay (RTT/2) the client
// coordinator adds to host-broadcast playback positions.
func (f *Fabric) OneWayDelay(p peer.ID) time.Duration {
	d, ok := f.PingRTT(p)
	if !ok {
		return 0
	}
	return d / 2
}

// IdentifyInfo exposes the observed addresses and advertised protocols
// go-libp2p's built-in identify protocol recorded for p, once the exchange
// completes.
func (f *Fabric) IdentifyInfo(p peer.ID) (addrs []string, protocols []protocol.ID) {
	for _, a := range f.host.Peerstore().Addrs(p) {
		addrs = append(addrs, a.String())
	}
	protos, _ := f.host.Peerstore().GetProtocols(p)
	return addrs, protos
}
