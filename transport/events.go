package transport

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// EventKind discriminates the swarm events the fabric surfaces to the role
// dispatcher. Modeled as a small tagged variant rather than a deep
// event-handler hierarchy.
type EventKind int

const (
	EventConnectionEstablished EventKind = iota
	EventConnectionClosed
	EventIdentifyCompleted
	EventBroadcast
	EventDirectedRequest
	EventDHTProvidersFound
	EventDHTProvidersExhausted
)

// Event is the single sum type carried out of the fabric's internal queue.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	Peer peer.ID

	// EventBroadcast / EventDirectedRequest
	Data     []byte
	Protocol string
	Respond  func(data []byte) // set for EventDirectedRequest only

	// EventDHTProvidersFound / EventDHTProvidersExhausted
	Key       string
	Providers []peer.ID

	At time.Time
}
