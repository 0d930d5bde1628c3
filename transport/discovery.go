package transport

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// mdnsNotifee bridges go-libp2p's mDNS service to the fabric's dial-on-sight
// behaviour for LAN discovery: any peer seen on the local network is dialed
// immediately so pub/sub and directed streams can reach it without a public
// relay.
type mdnsNotifee struct {
	f *Fabric
}

// HandlePeerFound implements mdns.Notifee.
func (n mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.f.Self() {
		return
	}
	n.f.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()
	if err := n.f.host.Connect(ctx, pi); err != nil {
		n.f.log.Debugw("mdns dial failed", "peer", pi.ID, "error", err)
	}
}
