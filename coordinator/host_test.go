package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/fileshare"
	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/wire"
)

// fakeNet captures everything a coordinator publishes or sends as decoded
// wire.Messages. The mutex is only for the directed-request path, which the
// host fires from a goroutine.
type fakeNet struct {
	mu        sync.Mutex
	published []wire.Message
	requests  []directedCapture
}

type directedCapture struct {
	peer peer.ID
	msg  wire.Message
}

func (f *fakeNet) Publish(ctx context.Context, topicID string, data []byte) error {
	m, err := wire.DecodeBinary(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, m)
	return nil
}

func (f *fakeNet) Request(ctx context.Context, p peer.ID, protoID protocol.ID, data []byte) ([]byte, error) {
	m, err := wire.DecodeBinary(data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, directedCapture{peer: p, msg: m})
	return wire.EncodeAck(wire.Ack{OK: true}), nil
}

func (f *fakeNet) publishedMessages() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Message(nil), f.published...)
}

func (f *fakeNet) directedRequests() []directedCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]directedCapture(nil), f.requests...)
}

func newTestHost(net *fakeNet) *Host {
	h := &Host{
		net:       net,
		topicID:   "topic",
		relayID:   peer.ID("relay"),
		room:      "room1",
		self:      peer.ID("self"),
		log:       zap.NewNop().Sugar(),
		roster:    room.NewRoster(),
		peerNames: make(map[peer.ID]string),
		playlist:  room.NewPlaylist(),
		inbound:   make(chan wire.Message, 64),
	}
	h.engine = fileshare.New(nil, nil, zap.NewNop().Sugar(), nil, nil, h.surface)
	return h
}

func drainInbound(ch chan wire.Message) []wire.Message {
	var out []wire.Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func messagesOfType(msgs []wire.Message, t wire.Type) []wire.Message {
	var out []wire.Message
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestUsernameCollisionForcesRenameAndBroadcastsBothNames(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: false})
	h.handleUserStatus(ctx, peer.ID("p1"), room.UserStatus{Name: "alice", Ready: false})

	require.Equal(t, 2, h.roster.Len())
	require.True(t, h.roster.Has("alice"))

	forcedName := h.peerNames[peer.ID("p1")]
	require.True(t, strings.HasPrefix(forcedName, "alice_"), "expected a <name>_<adjective> rename, got %q", forcedName)
	require.True(t, h.roster.Has(forcedName))

	// The forced name must be pushed back to p1 as a directed UserStatus.
	require.Eventually(t, func() bool {
		for _, r := range net.directedRequests() {
			if r.peer == peer.ID("p1") && r.msg.Type == wire.TypeUserStatus && r.msg.Username == forcedName {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// The last StatusList broadcast carries both names.
	lists := messagesOfType(net.publishedMessages(), wire.TypeStatusList)
	require.NotEmpty(t, lists)
	last := lists[len(lists)-1].Rooms["room1"]
	require.Len(t, last, 2)
	require.Equal(t, "alice", last[0].Username)
	require.Equal(t, forcedName, last[1].Username)
}

func TestUserStatusRenameDropsOldRosterEntry(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: false})
	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alicia", Ready: true})

	require.Equal(t, 1, h.roster.Len())
	require.False(t, h.roster.Has("alice"))
	s, ok := h.roster.Get("alicia")
	require.True(t, ok)
	require.True(t, s.Ready)
}

func TestSelectNextOnPlaylistDeletionBroadcastsPlaylistThenSelect(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.playlist = room.NewPlaylist(room.File("a"), room.File("b"), room.File("c"))
	h.selection = room.Selection{HasVideo: true, Video: room.File("b")}

	h.handlePlaylist(ctx, "client1", room.NewPlaylist(room.File("a"), room.File("c")))

	published := net.publishedMessages()
	require.Len(t, published, 2)
	require.Equal(t, wire.TypePlaylist, published[0].Type)
	require.Equal(t, []string{"a", "c"}, published[0].PlaylistFiles)
	require.Equal(t, wire.TypeSelect, published[1].Type)
	require.Equal(t, "c", *published[1].Filename)
	require.Equal(t, int64(0), *published[1].Position)
	require.Equal(t, "host", published[1].Username)
}

func TestPlaylistKeepingCurrentSelectionBroadcastsNoSelect(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.playlist = room.NewPlaylist(room.File("a"), room.File("b"), room.File("c"))
	h.selection = room.Selection{HasVideo: true, Video: room.File("b")}

	h.handlePlaylist(ctx, "client1", room.NewPlaylist(room.File("a"), room.File("b")))

	published := net.publishedMessages()
	require.Len(t, published, 1)
	require.Equal(t, wire.TypePlaylist, published[0].Type)
	require.Equal(t, room.File("b"), h.selection.Video)
}

func TestReadyGatingEmitsExactlyOneStartWhenAllReady(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: false})
	h.handleUserStatus(ctx, peer.ID("p1"), room.UserStatus{Name: "bob", Ready: false})
	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: true})
	require.Empty(t, messagesOfType(net.publishedMessages(), wire.TypeStart),
		"no start while bob is not ready")

	h.handleUserStatus(ctx, peer.ID("p1"), room.UserStatus{Name: "bob", Ready: true})
	starts := messagesOfType(net.publishedMessages(), wire.TypeStart)
	require.Len(t, starts, 1)
	require.Equal(t, "bob", starts[0].Username)
}

func TestReadyGatingSingleReadyUserStarts(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: true})

	starts := messagesOfType(net.publishedMessages(), wire.TypeStart)
	require.Len(t, starts, 1)
	require.Equal(t, "alice", starts[0].Username)
}

func TestHostAdoptsClientSelectBroadcastAndRebroadcasts(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	name := "movie.mkv"
	m := wire.Message{Type: wire.TypeSelect, Filename: &name, Username: "carol"}
	m.WithPositionDuration(0)
	payload, err := wire.EncodeBinary(m, false)
	require.NoError(t, err)

	h.OnBroadcast(ctx, peer.ID("p1"), payload)

	require.Equal(t, room.File("movie.mkv"), h.selection.Video)
	require.Equal(t, fileshare.StateNone, h.engine.State())
	rebroadcasts := messagesOfType(net.publishedMessages(), wire.TypeSelect)
	require.Len(t, rebroadcasts, 1)
}

func TestHostDropsDirectedOnlyTypesArrivingAsBroadcast(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	m := wire.Message{Type: wire.TypeUserStatus, Username: "mallory", Ready: true}
	payload, err := wire.EncodeBinary(m, false)
	require.NoError(t, err)

	h.OnBroadcast(ctx, peer.ID("p1"), payload)

	require.Equal(t, 0, h.roster.Len())
	require.Empty(t, net.publishedMessages())
	require.Empty(t, drainInbound(h.inbound))
}

func TestHostPeerDisconnectRemovesRosterEntryAndRebroadcasts(t *testing.T) {
	net := &fakeNet{}
	h := newTestHost(net)
	ctx := context.Background()

	h.handleUserStatus(ctx, peer.ID("p0"), room.UserStatus{Name: "alice", Ready: false})

	stop := h.OnConnectionClosed(ctx, peer.ID("p0"))
	require.False(t, stop)
	require.Equal(t, 0, h.roster.Len())

	stop = h.OnConnectionClosed(ctx, peer.ID("relay"))
	require.True(t, stop, "losing the relay connection must shut the host coordinator down")
}
