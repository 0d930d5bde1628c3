package fileshare

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/wire"
)

// newTestEngine builds an Engine with a nil fabric: every path exercised
// here is about the state machine and pending maps rather than the network
// and never reaches the fabric. The logger is a real no-op sink since some
// paths (decode failures) log a warning.
func newTestEngine(onMessage func(wire.Message)) *Engine {
	return New(nil, nil, zap.NewNop().Sugar(), nil, nil, onMessage)
}

func TestNewEngineStartsInNoShare(t *testing.T) {
	e := newTestEngine(nil)
	require.Equal(t, StateNone, e.State())
}

func TestBecomeProviderRejectsURLVideo(t *testing.T) {
	e := newTestEngine(nil)
	err := e.BecomeProvider(nil, room.URL("https://example.com/movie"))
	require.Error(t, err)
	require.Equal(t, StateNone, e.State())
}

func TestHandleProvidersFoundIgnoredOutsideConsumerState(t *testing.T) {
	e := newTestEngine(nil)
	// state is StateNone; a stray DHT event for any filename must be a no-op.
	e.HandleProvidersFound(nil, "movie.mkv", peer.ID("p1"))
	require.Equal(t, StateNone, e.State())
	require.Empty(t, e.providers)
}

func TestHandleProvidersFoundIgnoredForStaleFilename(t *testing.T) {
	e := newTestEngine(nil)
	e.state = StateConsumer
	e.consumerVideo = room.File("current.mkv")

	e.HandleProvidersFound(nil, "stale.mkv", peer.ID("p1"))
	require.Empty(t, e.providers)
	require.False(t, e.providersEverFound)
}

func TestRequestChunkWithNoProviderSurfacesProviderGone(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })

	err := e.RequestChunk(nil, 0, 1024)
	require.Error(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeProviderGone, messages[0].Type)
}

func TestResetClearsProviderAndConsumerStateWithoutFabricCall(t *testing.T) {
	e := newTestEngine(nil)
	// Manually seed consumer-side state as if a session were in progress;
	// Reset from StateConsumer never touches the fabric (only leaving
	// StateProvider calls StopProviding), so this is safe with a nil fabric.
	e.state = StateConsumer
	e.consumerVideo = room.File("movie.mkv")
	e.providers = []peer.ID{"p1", "p2"}
	e.providersEverFound = true
	e.isRequesting = true
	e.chosenProvider = "p1"
	e.chunkRequests["req-1"] = "p1"

	e.Reset()

	require.Equal(t, StateNone, e.State())
	require.Equal(t, room.Video{}, e.consumerVideo)
	require.Empty(t, e.providers)
	require.False(t, e.providersEverFound)
	require.False(t, e.isRequesting)
	require.Equal(t, peer.ID(""), e.chosenProvider)
	require.Empty(t, e.chunkRequests)
}

func TestFailChunkEmitsProviderGoneAndResets(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })
	e.state = StateConsumer
	e.consumerVideo = room.File("movie.mkv")
	e.chosenProvider = "p1"
	e.isRequesting = true
	e.chunkRequests["c1"] = "p1"

	e.failChunk("c1")

	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeProviderGone, messages[0].Type)
	require.Equal(t, StateNone, e.State())
	require.Empty(t, e.chunkRequests)
}

func TestFailChunkStaleIDIsNoop(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })
	e.state = StateConsumer
	e.consumerVideo = room.File("movie.mkv")

	// The session was already reset once; a late failure for a uuid no
	// longer tracked must not reset it again or re-emit ProviderGone.
	e.failChunk("long-gone")

	require.Empty(t, messages)
	require.Equal(t, StateConsumer, e.State())
}

func TestCompleteChunkSurfacesBytesToApplication(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })
	e.state = StateConsumer
	e.chunkRequests["c1"] = "p1"

	e.completeChunk("c1", wire.FileShareResponse{
		Chunk: &wire.ChunkResponseMsg{UUID: "c1", Start: 512, Bytes: []byte("payload")},
	})

	require.Empty(t, e.chunkRequests)
	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeChunkResponse, messages[0].Type)
	require.Equal(t, "c1", messages[0].UUID)
	require.Equal(t, uint64(512), *messages[0].Start)
	require.Equal(t, []byte("payload"), messages[0].Bytes)
}

func TestCompleteChunkAfterResetDropsStaleBytes(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })

	e.completeChunk("c1", wire.FileShareResponse{
		Chunk: &wire.ChunkResponseMsg{UUID: "c1", Start: 0, Bytes: []byte("late")},
	})

	require.Empty(t, messages)
}

func TestCompleteFileRequestSurfacesFileResponse(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })

	video := "movie.mkv"
	size := uint64(4096)
	e.completeFileRequest(wire.FileShareResponse{
		File: &wire.FileResponseMsg{UUID: "u1", Video: &video, Size: &size},
	})

	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeFileResponse, messages[0].Type)
	require.Equal(t, "movie.mkv", *messages[0].Filename)
	require.Equal(t, uint64(4096), *messages[0].Size)
}

func TestCompleteFileRequestErrSurfacesServerMessage(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })

	errMsg := "Not providing any files"
	e.completeFileRequest(wire.FileShareResponse{Err: &errMsg})

	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeServerMessage, messages[0].Type)
	require.True(t, messages[0].Error)
	require.Equal(t, errMsg, messages[0].MessageText)
}

func TestFailFileRequestResetsOnlyCurrentProvider(t *testing.T) {
	var messages []wire.Message
	e := newTestEngine(func(m wire.Message) { messages = append(messages, m) })
	e.state = StateConsumer
	e.consumerVideo = room.File("movie.mkv")
	e.chosenProvider = "p1"
	e.isRequesting = true

	e.failFileRequest("p2") // stale failure for a provider we moved off
	require.Equal(t, StateConsumer, e.State())
	require.Empty(t, messages)

	e.failFileRequest("p1")
	require.Equal(t, StateNone, e.State())
	require.Len(t, messages, 1)
	require.Equal(t, wire.TypeProviderGone, messages[0].Type)
}

func TestHandleInboundRequestWhenNotProvidingRespondsNotProviding(t *testing.T) {
	e := newTestEngine(nil)
	req := wire.FileShareRequest{File: &wire.FileRequestMsg{UUID: "u1", Video: "movie.mkv"}}
	payload, err := wire.EncodeFileShareRequest(req)
	require.NoError(t, err)

	var respondedWith []byte
	e.HandleInboundRequest(peer.ID("p1"), payload, func(b []byte) { respondedWith = b })

	resp, err := wire.DecodeFileShareResponse(respondedWith)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
}

func TestHandleInboundRequestMalformedPayloadRespondsWithError(t *testing.T) {
	e := newTestEngine(nil)
	var respondedWith []byte
	e.HandleInboundRequest(peer.ID("p1"), []byte("not cbor"), func(b []byte) { respondedWith = b })

	resp, err := wire.DecodeFileShareResponse(respondedWith)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
}

func TestProviderFileRequestRoundTripsThroughPendingMap(t *testing.T) {
	e := newTestEngine(nil)
	e.state = StateProvider
	e.providingVideo = room.File("movie.mkv")

	req := wire.FileShareRequest{File: &wire.FileRequestMsg{UUID: "u1", Video: "movie.mkv"}}
	payload, err := wire.EncodeFileShareRequest(req)
	require.NoError(t, err)

	var surfaced FileRequested
	e.onFileRequested = func(r FileRequested) { surfaced = r }

	var respondedWith []byte
	e.HandleInboundRequest(peer.ID("p1"), payload, func(b []byte) { respondedWith = b })

	require.Equal(t, "u1", surfaced.UUID)
	require.Equal(t, "movie.mkv", surfaced.Filename)
	require.Contains(t, e.pendingFileResponses, "u1")

	size := uint64(1024)
	video := "movie.mkv"
	surfaced.Respond(&video, &size, nil)

	require.Empty(t, e.pendingFileResponses, "responding must clear the pending handle")
	resp, err := wire.DecodeFileShareResponse(respondedWith)
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.File)
	require.Equal(t, "movie.mkv", *resp.File.Video)
	require.Equal(t, uint64(1024), *resp.File.Size)
}

func TestProviderChunkRequestRoundTripsThroughPendingMap(t *testing.T) {
	e := newTestEngine(nil)
	e.state = StateProvider
	e.providingVideo = room.File("movie.mkv")

	req := wire.FileShareRequest{Chunk: &wire.ChunkRequestMsg{UUID: "c1", Start: 10, Length: 5}}
	payload, err := wire.EncodeFileShareRequest(req)
	require.NoError(t, err)

	var surfaced ChunkRequested
	e.onChunkRequested = func(r ChunkRequested) { surfaced = r }

	var respondedWith []byte
	e.HandleInboundRequest(peer.ID("p1"), payload, func(b []byte) { respondedWith = b })

	require.Equal(t, uint64(10), surfaced.Start)
	require.Equal(t, uint64(5), surfaced.Length)
	require.Contains(t, e.pendingChunkResponses, "c1")

	surfaced.Respond([]byte("hello"), nil)

	require.Empty(t, e.pendingChunkResponses)
	resp, err := wire.DecodeFileShareResponse(respondedWith)
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.Chunk)
	require.Equal(t, []byte("hello"), resp.Chunk.Bytes)
}

func TestRespondFileWithoutVideoOrErrorDefaultsToNotProviding(t *testing.T) {
	e := newTestEngine(nil)
	var captured wire.FileShareResponse
	e.pendingFileResponses["u1"] = func(r wire.FileShareResponse) { captured = r }

	e.RespondFile("u1", nil, nil, nil)

	require.NotNil(t, captured.Err)
	require.Equal(t, "NotProviding", *captured.Err)
}

func TestRespondFileUnknownIDIsNoop(t *testing.T) {
	e := newTestEngine(nil)
	// No pending handle registered for "missing"; must not panic.
	e.RespondFile("missing", nil, nil, nil)
}
