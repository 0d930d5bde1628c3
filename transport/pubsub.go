package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Subscription wraps a pubsub subscription and forwards every message
// published by another peer as an EventBroadcast onto the fabric's event
// channel until ctx is cancelled.
type Subscription struct {
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

// Subscribe joins topicID (a pure function of room+password, so
// connectivity alone never admits a peer to delivery) and starts
// forwarding every received message as an EventBroadcast, except the ones
// this peer published itself.
func (f *Fabric) Subscribe(ctx context.Context, topicID string) (*Subscription, error) {
	f.topicsMu.Lock()
	t, ok := f.topics[topicID]
	if !ok {
		var err error
		t, err = f.pubsub.Join(topicID)
		if err != nil {
			f.topicsMu.Unlock()
			return nil, fmt.Errorf("transport: join topic: %w", err)
		}
		f.topics[topicID] = t
	}
	f.topicsMu.Unlock()

	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{sub: sub, cancel: cancel}

	go func() {
		defer sub.Cancel()
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					f.log.Debugw("subscription ended", "topic", topicID, "error", err)
				}
				return
			}
			// GetFrom is the signed origin of the message, not the gossip
			// hop it arrived over; the client's host-origin check needs
			// the origin.
			origin := msg.GetFrom()
			if origin == f.Self() {
				continue
			}
			f.emit(Event{
				Kind:     EventBroadcast,
				Peer:     origin,
				Data:     msg.Data,
				Protocol: topicID,
				At:       time.Now(),
			})
		}
	}()

	return s, nil
}

// Close stops forwarding messages from this subscription.
func (s *Subscription) Close() {
	s.cancel()
}

// Publish sends data on topicID. A gossipsub "insufficient peers" error
// (no subscribers yet) is treated as success, since it just means this
// peer is first to join the room.
func (f *Fabric) Publish(ctx context.Context, topicID string, data []byte) error {
	f.topicsMu.Lock()
	t, ok := f.topics[topicID]
	if !ok {
		var err error
		t, err = f.pubsub.Join(topicID)
		if err != nil {
			f.topicsMu.Unlock()
			return fmt.Errorf("transport: join topic for publish: %w", err)
		}
		f.topics[topicID] = t
	}
	f.topicsMu.Unlock()

	err := t.Publish(ctx, data)
	if err == nil {
		return nil
	}
	if errors.Is(err, pubsub.ErrTopicClosed) {
		return fmt.Errorf("transport: publish: %w", err)
	}
	// gossipsub has no subscribers yet for this room; this peer is first
	// in, not a failure.
	f.log.Debugw("publish with no subscribers yet, treating as success", "topic", topicID, "error", err)
	return nil
}
