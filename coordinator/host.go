package coordinator

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
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

const outboundBuffer = 256

// swarmNet is the slice of transport.Fabric the coordinators drive directly
// (topic publish and directed control requests); narrowed to an interface so
// the scripted event-sequence tests can capture traffic without a live
// libp2p host.
type swarmNet interface {
	Publish(ctx context.Context, topicID string, data []byte) error
	Request(ctx context.Context, p peer.ID, protoID protocol.ID, data []byte) ([]byte, error)
}

// Host is the authoritative coordinator for a room: it owns the roster,
// playlist, selection, and the peer → username map, and is the only writer
// of any of them. dispatch.Run drives every method here from a single
// goroutine, so none of this needs a mutex.
type Host struct {
	net     swarmNet
	topicID string
	relay   ma.Multiaddr
	relayID peer.ID
	room    string
	self    peer.ID
	log     *zap.SugaredLogger

	sub    *transport.Subscription
	engine *fileshare.Engine
	index  fileindex.Index

	roster    *room.Roster
	peerNames map[peer.ID]string
	playlist  *room.Playlist
	selection room.Selection

	inbound chan wire.Message
}

// StartHost subscribes to the room topic, starts the dispatch loop, and
// returns the application-facing facade. A Connected event is surfaced to
// the application immediately, since the host needs no peer handshake of its
// own to be "in" the room.
func StartHost(ctx context.Context, fabric *transport.Fabric, relay ma.Multiaddr, relayID peer.ID, roomName, topicID string, index fileindex.Index, log *zap.SugaredLogger) (*facade.Facade, error) {
	h := &Host{
		net:       fabric,
		topicID:   topicID,
		relay:     relay,
		relayID:   relayID,
		room:      roomName,
		self:      fabric.Self(),
		log:       log,
		index:     index,
		roster:    room.NewRoster(),
		peerNames: make(map[peer.ID]string),
		playlist:  room.NewPlaylist(),
		inbound:   make(chan wire.Message, outboundBuffer),
	}
	h.engine = fileshare.New(fabric, relay, log, h.onFileRequested, h.onChunkRequested, h.surface)

	sub, err := fabric.Subscribe(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: host subscribe: %w", err)
	}
	h.sub = sub

	outboundCh := make(chan wire.Message, outboundBuffer)
	go dispatch.Run(ctx, fabric, outboundCh, h, log)

	h.surface(wire.Message{Type: wire.TypeConnected})
	return facade.New(outboundCh, h.inbound), nil
}

func (h *Host) surface(m wire.Message) {
	select {
	case h.inbound <- m:
	default:
		h.log.Warnw("host inbound queue full, dropping message to application", "type", m.Type)
	}
}

// broadcast publishes m with attribution intact: the host is the authority
// stamping the acting username onto Start/Select/StatusList traffic; only
// client-originated messages strip it.
func (h *Host) broadcast(ctx context.Context, m wire.Message) {
	payload, err := wire.EncodeBinary(m, false)
	if err != nil {
		h.log.Errorw("host: encode broadcast", "type", m.Type, "error", err)
		return
	}
	if err := h.net.Publish(ctx, h.topicID, payload); err != nil {
		h.log.Warnw("host: publish failed", "type", m.Type, "error", err)
	}
}

// request sends a directed control-plane message to p within the 5s message
// budget.
func (h *Host) request(ctx context.Context, p peer.ID, m wire.Message) error {
	payload, err := wire.EncodeBinary(m, false)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, transport.MessageTimeout)
	defer cancel()
	_, err = h.net.Request(rctx, p, transport.ProtoMessage, payload)
	return err
}

// evaluateReadyGating runs after any roster, playlist, or selection change:
// a Start is broadcast if and only if every roster member is ready. actor
// is the user who triggered the evaluation, or "" to fall back to "Server".
func (h *Host) evaluateReadyGating(ctx context.Context, actor string) {
	if !h.roster.AllReady() {
		return
	}
	if actor == "" {
		actor = "Server"
	}
	start := wire.Message{Type: wire.TypeStart, Username: actor}
	h.surface(start)
	h.broadcast(ctx, start)
}

// --- dispatch.Role ---

func (h *Host) OnConnectionEstablished(ctx context.Context, p peer.ID) {
	if p == h.relayID {
		return
	}
	go h.sendSnapshot(ctx, p)
}

func (h *Host) sendSnapshot(ctx context.Context, p peer.ID) {
	if err := h.request(ctx, p, playlistToWire(h.playlist)); err != nil {
		h.log.Debugw("host: snapshot playlist failed", "peer", p, "error", err)
	}
	if err := h.request(ctx, p, selectionToWire(h.selection)); err != nil {
		h.log.Debugw("host: snapshot select failed", "peer", p, "error", err)
	}
	h.broadcast(ctx, statusListToWire(h.room, h.roster))
}

func (h *Host) OnConnectionClosed(ctx context.Context, p peer.ID) bool {
	if name, ok := h.peerNames[p]; ok {
		h.roster.Remove(name)
		delete(h.peerNames, p)
		h.broadcast(ctx, statusListToWire(h.room, h.roster))
	}
	// Losing the relay means losing the circuit listener, so the
	// coordinator shuts down; no re-election is attempted, and the
	// application reinitiates if it wants back in.
	return p == h.relayID
}

func (h *Host) OnIdentifyCompleted(ctx context.Context, p peer.ID) {}

func (h *Host) OnBroadcast(ctx context.Context, from peer.ID, data []byte) {
	m, err := wire.DecodeBinary(data)
	if err != nil {
		h.log.Warnw("host: undecodable broadcast", "from", from, "error", err)
		return
	}
	switch m.Type {
	case wire.TypeSelect:
		h.selection = wireToSelection(m)
		h.broadcast(ctx, m)
		h.engine.Reset()
		h.evaluateReadyGating(ctx, m.Username)
	case wire.TypePause, wire.TypeStart, wire.TypePlaybackSpeed, wire.TypeSeek, wire.TypeUserMessage:
		h.surface(m)
	default:
		h.log.Warnw("host: protocol violation on broadcast", "from", from, "type", m.Type)
	}
}

func (h *Host) OnDirectedRequest(ctx context.Context, from peer.ID, protoID string, data []byte, respond func([]byte)) {
	if protoID == string(transport.ProtoShare) {
		h.engine.HandleInboundRequest(from, data, respond)
		return
	}
	if protoID != string(transport.ProtoMessage) {
		respond(wire.EncodeAck(wire.Ack{OK: false, Error: "unexpected protocol"}))
		return
	}

	m, err := wire.DecodeBinary(data)
	if err != nil {
		respond(wire.EncodeAck(wire.Ack{OK: false, Error: "decode error"}))
		return
	}

	switch m.Type {
	case wire.TypeUserStatus:
		h.handleUserStatus(ctx, from, wireToUserStatus(m))
		respond(wire.EncodeAck(wire.Ack{OK: true}))
	case wire.TypePlaylist:
		h.handlePlaylist(ctx, m.Username, wireToPlaylist(m))
		respond(wire.EncodeAck(wire.Ack{OK: true}))
	default:
		respond(wire.EncodeAck(wire.Ack{OK: false, Error: "protocol violation"}))
	}
}

// handleUserStatus admits, renames, or updates a user. A new peer whose
// requested name collides gets a forced unique alternative pushed back as
// a directed UserStatus; a known peer asking for a free name is renamed; a
// known peer asking for a taken name keeps its old name and only the ready
// flag is updated.
func (h *Host) handleUserStatus(ctx context.Context, from peer.ID, s room.UserStatus) {
	oldName, known := h.peerNames[from]

	if !known {
		finalName := uniqueName(s.Name, h.roster.Has)
		if finalName != s.Name {
			h.peerNames[from] = finalName
			h.roster.Upsert(room.UserStatus{Name: finalName, Ready: s.Ready})
			forced := userStatusToWire(room.UserStatus{Name: finalName, Ready: s.Ready})
			go func() {
				if err := h.request(ctx, from, forced); err != nil {
					h.log.Debugw("host: forced-rename notify failed", "peer", from, "error", err)
				}
			}()
		} else {
			h.peerNames[from] = s.Name
			h.roster.Upsert(s)
		}
	} else if !h.roster.Has(s.Name) || oldName == s.Name {
		h.roster.Remove(oldName)
		h.peerNames[from] = s.Name
		h.roster.Upsert(s)
	} else {
		h.roster.Upsert(room.UserStatus{Name: oldName, Ready: s.Ready})
	}

	h.broadcast(ctx, statusListToWire(h.room, h.roster))
	h.evaluateReadyGating(ctx, h.peerNames[from])
}

func (h *Host) handlePlaylist(ctx context.Context, actor string, newPlaylist *room.Playlist) {
	oldPlaylist := h.playlist
	h.playlist = newPlaylist
	h.broadcast(ctx, playlistToWire(newPlaylist))
	h.surface(playlistToWire(newPlaylist))

	result := room.SelectNext(oldPlaylist, newPlaylist, h.selection)
	if !result.Changed {
		return
	}
	h.selection = room.Selection{HasVideo: !result.Video.IsZero(), Video: result.Video, Position: 0, Actor: "host"}
	m := selectionToWire(h.selection)
	h.broadcast(ctx, m)
	h.surface(m)
	h.evaluateReadyGating(ctx, "host")
}

func (h *Host) OnDHTProvidersFound(ctx context.Context, key string, p peer.ID) {
	h.engine.HandleProvidersFound(ctx, key, p)
}

func (h *Host) OnDHTProvidersExhausted(ctx context.Context, key string) {
	h.engine.HandleProvidersExhausted(ctx, key)
}

func (h *Host) OnOutbound(ctx context.Context, m wire.Message) {
	switch m.Type {
	case wire.TypeUserStatus:
		s := wireToUserStatus(m)
		h.peerNames[h.self] = s.Name
		h.roster.Upsert(s)
		h.broadcast(ctx, statusListToWire(h.room, h.roster))
		h.evaluateReadyGating(ctx, s.Name)
	case wire.TypePlaylist:
		h.handlePlaylist(ctx, "host", wireToPlaylist(m))
	case wire.TypeVideoStatus:
		if d, ok := m.PositionDuration(); ok {
			h.selection.Position = d
		}
		h.broadcast(ctx, m)
	case wire.TypeSelect:
		h.selection = wireToSelection(m)
		h.broadcast(ctx, m)
		h.engine.Reset()
		h.evaluateReadyGating(ctx, m.Username)
	case wire.TypeVideoShare:
		h.handleVideoShare(ctx, m)
	case wire.TypeFileRequest, wire.TypeChunkRequest, wire.TypeFileResponse, wire.TypeChunkResponse:
		routeFileShare(ctx, h.engine, h.log, m)
	default:
		h.broadcast(ctx, m)
	}
}

func (h *Host) handleVideoShare(ctx context.Context, m wire.Message) {
	if m.Share == nil {
		h.engine.Reset()
		return
	}
	if err := h.engine.BecomeProvider(ctx, room.Parse(*m.Share)); err != nil {
		h.log.Warnw("host: become provider failed", "error", err)
	}
}

func (h *Host) onFileRequested(req fileshare.FileRequested) {
	resolveFileRequest(h.index, req, h.surface)
}

func (h *Host) onChunkRequested(req fileshare.ChunkRequested) {
	resolveChunkRequest(h.index, req, h.surface)
}

func (h *Host) Ticks() <-chan func() { return h.engine.Ticks() }

func (h *Host) Close() {
	if h.sub != nil {
		h.sub.Close()
	}
	h.engine.Reset()
	close(h.inbound)
}
