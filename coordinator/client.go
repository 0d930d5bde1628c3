package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/dispatch"
	"github.com/n0remac/syncroom/facade"
	"github.com/n0remac/syncroom/fileindex"
	"github.com/n0remac/syncroom/fileshare"
	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/transport"
	"github.com/n0remac/syncroom/wire"
)

// pingInterval paces the keep-alive pings that feed the client's one-way
// delay estimate.
const pingInterval = time.Second

// Client is the mirroring coordinator: the host's broadcasts are
// authoritative and the client holds almost nothing of its own: the host
// peer identity, its last outbound VideoStatus (for idempotence), a
// seek-in-flight latch, and the smoothed one-way delay from
// transport.Fabric's ping sampling.
type Client struct {
	net     swarmNet
	topicID string
	relay   ma.Multiaddr
	hostID  peer.ID
	log     *zap.SugaredLogger

	sub    *transport.Subscription
	engine *fileshare.Engine
	index  fileindex.Index

	// oneWayDelay reports the smoothed RTT/2 estimate for the host
	// connection; injected so the clock-compensation path is testable
	// without a live fabric.
	oneWayDelay func() time.Duration

	lastVideoStatus *wire.Message
	isSeeking       bool

	inbound chan wire.Message
}

// StartClient subscribes to the room topic and starts the dispatch loop.
func StartClient(ctx context.Context, fabric *transport.Fabric, relay ma.Multiaddr, hostID peer.ID, topicID string, index fileindex.Index, log *zap.SugaredLogger) (*facade.Facade, error) {
	c := &Client{
		net:         fabric,
		topicID:     topicID,
		relay:       relay,
		hostID:      hostID,
		log:         log,
		index:       index,
		oneWayDelay: func() time.Duration { return fabric.OneWayDelay(hostID) },
		inbound:     make(chan wire.Message, outboundBuffer),
	}
	c.engine = fileshare.New(fabric, relay, log, c.onFileRequested, c.onChunkRequested, c.surface)

	sub, err := fabric.Subscribe(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: client subscribe: %w", err)
	}
	c.sub = sub

	outboundCh := make(chan wire.Message, outboundBuffer)
	go dispatch.Run(ctx, fabric, outboundCh, c, log)
	go pingLoop(ctx, fabric, hostID, log)

	return facade.New(outboundCh, c.inbound), nil
}

// pingLoop keeps sampling the host connection's RTT so OneWayDelay has a
// live estimate to smooth over. Failures are expected during reconnects
// and only logged at debug.
func pingLoop(ctx context.Context, fabric *transport.Fabric, host peer.ID, log *zap.SugaredLogger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, transport.MessageTimeout)
			if _, err := fabric.Ping(pctx, host); err != nil {
				log.Debugw("client: keep-alive ping failed", "host", host, "error", err)
			}
			cancel()
		}
	}
}

func (c *Client) surface(m wire.Message) {
	select {
	case c.inbound <- m:
	default:
		c.log.Warnw("client inbound queue full, dropping message to application", "type", m.Type)
	}
}

func (c *Client) sendToHost(ctx context.Context, m wire.Message) {
	payload, err := wire.EncodeBinary(m, true)
	if err != nil {
		c.log.Errorw("client: encode directed-to-host message", "type", m.Type, "error", err)
		return
	}
	go func() {
		rctx, cancel := context.WithTimeout(ctx, transport.MessageTimeout)
		defer cancel()
		if _, err := c.net.Request(rctx, c.hostID, transport.ProtoMessage, payload); err != nil {
			c.log.Warnw("client: directed request to host failed", "type", m.Type, "error", err)
			c.surface(wire.Message{
				Type:        wire.TypeServerMessage,
				MessageText: fmt.Sprintf("request to host failed: %s", m.Type),
				Error:       true,
			})
		}
	}()
}

func (c *Client) broadcast(ctx context.Context, m wire.Message) {
	payload, err := wire.EncodeBinary(m, true)
	if err != nil {
		c.log.Errorw("client: encode broadcast", "type", m.Type, "error", err)
		return
	}
	if err := c.net.Publish(ctx, c.topicID, payload); err != nil {
		c.log.Warnw("client: publish failed", "type", m.Type, "error", err)
	}
}

// --- dispatch.Role ---

func (c *Client) OnConnectionEstablished(ctx context.Context, p peer.ID) {
	if p == c.hostID {
		c.surface(wire.Message{Type: wire.TypeConnected})
	}
}

func (c *Client) OnConnectionClosed(ctx context.Context, p peer.ID) bool {
	// Losing the host ends the session. A peer can hold several
	// simultaneous connections, but go-libp2p's Connectedness folds that
	// bookkeeping already: one EventConnectionClosed for the host peer
	// means libp2p considers it disconnected.
	return p == c.hostID
}

func (c *Client) OnIdentifyCompleted(ctx context.Context, p peer.ID) {}

func (c *Client) OnBroadcast(ctx context.Context, from peer.ID, data []byte) {
	m, err := wire.DecodeBinary(data)
	if err != nil {
		c.log.Warnw("client: undecodable broadcast", "from", from, "error", err)
		return
	}

	switch m.Type {
	case wire.TypeVideoStatus:
		if from != c.hostID {
			c.log.Warnw("client: protocol violation, videoStatus from non-host", "from", from)
			return
		}
		if c.isSeeking {
			return
		}
		if !m.Paused {
			if d, ok := m.PositionDuration(); ok {
				m.WithPositionDuration(d + c.oneWayDelay())
			}
		}
		c.surface(m)
	case wire.TypeSelect:
		c.isSeeking = false
		c.engine.Reset()
		c.surface(m)
	case wire.TypeSeek:
		c.isSeeking = true
		c.surface(m)
	case wire.TypePause, wire.TypeStart, wire.TypePlaybackSpeed, wire.TypeUserMessage,
		wire.TypeServerMessage, wire.TypeStatusList:
		c.surface(m)
	default:
		c.log.Warnw("client: protocol violation on broadcast", "from", from, "type", m.Type)
	}
}

func (c *Client) OnDirectedRequest(ctx context.Context, from peer.ID, protoID string, data []byte, respond func([]byte)) {
	if protoID == string(transport.ProtoShare) {
		c.engine.HandleInboundRequest(from, data, respond)
		return
	}
	if protoID != string(transport.ProtoMessage) {
		respond(wire.EncodeAck(wire.Ack{OK: false, Error: "unexpected protocol"}))
		return
	}

	if from == c.hostID {
		m, err := wire.DecodeBinary(data)
		if err != nil {
			respond(wire.EncodeAck(wire.Ack{OK: false, Error: "decode error"}))
			return
		}
		c.surface(m)
		respond(wire.EncodeAck(wire.Ack{OK: true}))
		return
	}

	// "Inbound directed requests from non-host clients: only
	// ChunkRequest/FileRequest/ChunkResponse/FileResponse are valid; all
	// four are handled by the fileshare engine above via ProtoShare, so any
	// directed /niketsu-message/1 request from a non-host peer is already a
	// violation.
	c.log.Warnw("client: protocol violation, directed request from non-host peer", "from", from)
	respond(wire.EncodeAck(wire.Ack{OK: false, Error: "protocol violation"}))
}

func (c *Client) OnDHTProvidersFound(ctx context.Context, key string, p peer.ID) {
	c.engine.HandleProvidersFound(ctx, key, p)
}

func (c *Client) OnDHTProvidersExhausted(ctx context.Context, key string) {
	c.engine.HandleProvidersExhausted(ctx, key)
}

func (c *Client) OnOutbound(ctx context.Context, m wire.Message) {
	switch m.Type {
	case wire.TypeVideoStatus:
		if c.lastVideoStatus != nil {
			if d, ok := m.PositionDuration(); ok {
				if prev, pok := c.lastVideoStatus.PositionDuration(); !pok || prev != d {
					c.isSeeking = false
				}
			}
		}
		c.lastVideoStatus = &m
	case wire.TypePlaylist, wire.TypeUserStatus:
		c.sendToHost(ctx, m)
	case wire.TypeSelect:
		c.engine.Reset()
		c.broadcast(ctx, m)
	case wire.TypeVideoShare:
		c.handleVideoShare(ctx, m)
	case wire.TypeFileRequest, wire.TypeChunkRequest, wire.TypeFileResponse, wire.TypeChunkResponse:
		routeFileShare(ctx, c.engine, c.log, m)
	default:
		c.broadcast(ctx, m)
	}
}

func (c *Client) handleVideoShare(ctx context.Context, m wire.Message) {
	if m.Share == nil {
		c.engine.Reset()
		return
	}
	if err := c.engine.BecomeProvider(ctx, room.Parse(*m.Share)); err != nil {
		c.log.Warnw("client: become provider failed", "error", err)
	}
}

func (c *Client) onFileRequested(req fileshare.FileRequested) {
	resolveFileRequest(c.index, req, c.surface)
}

func (c *Client) onChunkRequested(req fileshare.ChunkRequested) {
	resolveChunkRequest(c.index, req, c.surface)
}

func (c *Client) Ticks() <-chan func() { return c.engine.Ticks() }

func (c *Client) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
	c.engine.Reset()
	close(c.inbound)
}
