// Package dispatch owns the single coordinator task: a select loop that,
// on each iteration, routes the first ready of the next swarm event, the
// next outbound application message, or the file-share engine's next
// internal tick to a role-specific handler. DHT query progress arrives on
// the swarm-event stream (transport.Fabric emits
// EventDHTProvidersFound/Exhausted there); the tick arm carries the
// engine's request-completion thunks back onto this goroutine, so every
// piece of coordinator and engine state stays single-task-owned.
package dispatch

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/transport"
	"github.com/n0remac/syncroom/wire"
)

// Role is the capability bundle a host or client coordinator implements.
// Exactly one case's worth of handling applies per event; there is no
// shared dispatch tree.
type Role interface {
	OnConnectionEstablished(ctx context.Context, p peer.ID)
	OnConnectionClosed(ctx context.Context, p peer.ID) (stop bool)
	OnIdentifyCompleted(ctx context.Context, p peer.ID)
	OnBroadcast(ctx context.Context, from peer.ID, data []byte)
	OnDirectedRequest(ctx context.Context, from peer.ID, protocol string, data []byte, respond func([]byte))
	OnDHTProvidersFound(ctx context.Context, key string, p peer.ID)
	OnDHTProvidersExhausted(ctx context.Context, key string)
	OnOutbound(ctx context.Context, m wire.Message)

	// Ticks is the file-share engine's completion queue; a role with no
	// engine may return nil.
	Ticks() <-chan func()

	Close()
}

// Run drives role until ctx is cancelled, the fabric's event channel
// closes, or outbound closes (the facade was dropped). It returns once the
// loop has exited and role.Close has been called.
func Run(ctx context.Context, fabric *transport.Fabric, outbound <-chan wire.Message, role Role, log *zap.SugaredLogger) {
	defer role.Close()
	for {
		select {
		case <-ctx.Done():
			log.Infow("dispatch loop exiting", "cause", "context cancelled")
			return

		case evt, ok := <-fabric.Events():
			if !ok {
				log.Infow("dispatch loop exiting", "cause", "swarm event channel closed")
				return
			}
			if stop := handleEvent(ctx, evt, role); stop {
				log.Infow("dispatch loop exiting", "cause", "host/relay connection lost")
				return
			}

		case m, ok := <-outbound:
			if !ok {
				log.Infow("dispatch loop exiting", "cause", "outbound channel closed")
				return
			}
			role.OnOutbound(ctx, m)

		case fn := <-role.Ticks():
			fn()
		}
	}
}

func handleEvent(ctx context.Context, evt transport.Event, role Role) (stop bool) {
	switch evt.Kind {
	case transport.EventConnectionEstablished:
		role.OnConnectionEstablished(ctx, evt.Peer)
	case transport.EventConnectionClosed:
		return role.OnConnectionClosed(ctx, evt.Peer)
	case transport.EventIdentifyCompleted:
		role.OnIdentifyCompleted(ctx, evt.Peer)
	case transport.EventBroadcast:
		role.OnBroadcast(ctx, evt.Peer, evt.Data)
	case transport.EventDirectedRequest:
		role.OnDirectedRequest(ctx, evt.Peer, evt.Protocol, evt.Data, evt.Respond)
	case transport.EventDHTProvidersFound:
		for _, p := range evt.Providers {
			role.OnDHTProvidersFound(ctx, evt.Key, p)
		}
	case transport.EventDHTProvidersExhausted:
		role.OnDHTProvidersExhausted(ctx, evt.Key)
	}
	return false
}
