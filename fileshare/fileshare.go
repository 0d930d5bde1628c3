// Package fileshare implements the provider/consumer file-transfer engine:
// a peer is in one of NoShare/Provider/Consumer at any time, DHT-backed
// provider discovery drives the consumer side, and both sides correlate
// requests to responses by uuid.
//
// Engine carries no mutex: every method here is only ever called from the
// dispatch loop's single goroutine, and the request goroutines hand their
// results back through the Ticks channel rather than touching state.
package fileshare

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/transport"
	"github.com/n0remac/syncroom/wire"
)

// State is the peer's current file-share role.
type State int

const (
	StateNone State = iota
	StateProvider
	StateConsumer
)

// maxProvidersTried bounds the providers slice; one provider is picked
// arbitrarily and kept for the whole request, so there is no need to
// remember more than a handful.
const maxProvidersTried = 16

// tickBuffer sizes the completion queue; each in-flight request produces at
// most one completion thunk, so this never fills in practice.
const tickBuffer = 64

// FileRequested is surfaced to the application when a peer asks this
// process (acting as Provider) for a whole file; the application must
// consult its local file index and call Respond exactly once.
type FileRequested struct {
	From     peer.ID
	UUID     string
	Filename string
	Respond  func(video *string, size *uint64, err *string)
}

// ChunkRequested is surfaced when a peer asks for a byte range of the file
// currently being provided. Filename is whichever video this Engine is
// currently advertising as Provider; a ChunkRequestMsg on the wire carries
// no filename of its own, since a session only ever provides one file at a
// time.
type ChunkRequested struct {
	From     peer.ID
	UUID     string
	Filename string
	Start    uint64
	Length   uint64
	Respond  func(bytes []byte, err *string)
}

// Engine drives the state machine. Callbacks are set once at construction
// and invoked synchronously from the dispatch goroutine.
type Engine struct {
	fabric *transport.Fabric
	relay  ma.Multiaddr
	log    *zap.SugaredLogger

	onFileRequested  func(FileRequested)
	onChunkRequested func(ChunkRequested)
	onMessage        func(wire.Message) // UserMessage / videoProviderStopped surfaced to the application

	state          State
	providingVideo room.Video

	consumerVideo      room.Video
	providers          []peer.ID
	providersEverFound bool
	isRequesting       bool
	chosenProvider     peer.ID

	pendingFileResponses  map[string]func(wire.FileShareResponse)
	pendingChunkResponses map[string]func(wire.FileShareResponse)
	chunkRequests         map[string]peer.ID // outbound chunk uuid -> provider, for failure tracking

	// ticks carries completion thunks from the engine's request goroutines
	// back onto the dispatch loop, so all state mutation stays on the
	// single coordinator task.
	ticks chan func()
}

// New constructs an Engine in state NoShare.
func New(fabric *transport.Fabric, relay ma.Multiaddr, log *zap.SugaredLogger, onFileRequested func(FileRequested), onChunkRequested func(ChunkRequested), onMessage func(wire.Message)) *Engine {
	return &Engine{
		fabric:                fabric,
		relay:                 relay,
		log:                   log,
		onFileRequested:       onFileRequested,
		onChunkRequested:      onChunkRequested,
		onMessage:             onMessage,
		pendingFileResponses:  make(map[string]func(wire.FileShareResponse)),
		pendingChunkResponses: make(map[string]func(wire.FileShareResponse)),
		chunkRequests:         make(map[string]peer.ID),
		ticks:                 make(chan func(), tickBuffer),
	}
}

// State reports the current role.
func (e *Engine) State() State { return e.state }

// Ticks is the channel of completion thunks the dispatch loop must drain and
// run; every thunk expects to execute on the same goroutine that drives the
// rest of the Engine's methods.
func (e *Engine) Ticks() <-chan func() { return e.ticks }

func (e *Engine) tick(fn func()) {
	select {
	case e.ticks <- fn:
	default:
		e.log.Warnw("fileshare: tick queue full, dropping completion")
	}
}

// Reset returns to NoShare. If leaving Provider, the DHT advertisement is
// withdrawn. Any pending response handles are dropped without a reply.
func (e *Engine) Reset() {
	if e.state == StateProvider {
		e.fabric.StopProviding(e.providingVideo.Value)
	}
	e.state = StateNone
	e.providingVideo = room.Video{}
	e.consumerVideo = room.Video{}
	e.providers = nil
	e.providersEverFound = false
	e.isRequesting = false
	e.chosenProvider = ""
	e.pendingFileResponses = make(map[string]func(wire.FileShareResponse))
	e.pendingChunkResponses = make(map[string]func(wire.FileShareResponse))
	e.chunkRequests = make(map[string]peer.ID)
}

// BecomeProvider handles an outbound VideoShare carrying a video: reset,
// then advertise the filename. Only file-typed videos are ever advertised,
// which keeps URL strings out of the DHT keyspace.
func (e *Engine) BecomeProvider(ctx context.Context, video room.Video) error {
	e.Reset()
	if video.Kind != room.VideoKindFile {
		return fmt.Errorf("fileshare: only file-typed videos can be provided, got %v", video.Kind)
	}
	e.state = StateProvider
	e.providingVideo = video
	return e.fabric.StartProviding(ctx, video.Value)
}

// BecomeConsumer handles a FileRequest from the local application, which
// wants to fetch the file from a remote peer: reset, then issue
// GetProviders(video.name).
func (e *Engine) BecomeConsumer(ctx context.Context, video room.Video) error {
	e.Reset()
	e.state = StateConsumer
	e.consumerVideo = video
	return e.fabric.GetProviders(ctx, video.Value, maxProvidersTried)
}

// HandleProvidersFound folds one DHT-discovered provider into the set and
// immediately retries request-file.
func (e *Engine) HandleProvidersFound(ctx context.Context, filename string, p peer.ID) {
	if e.state != StateConsumer || filename != e.consumerVideo.Value {
		return
	}
	e.providersEverFound = true
	if len(e.providers) < maxProvidersTried {
		e.providers = append(e.providers, p)
	}
	e.requestFile(ctx)
}

// HandleProvidersExhausted is the terminal DHT query event (consumer flow
// step 2): retry request-file one final time, and if no provider was ever
// found, tell onMessage to surface a chat-style diagnostic.
func (e *Engine) HandleProvidersExhausted(ctx context.Context, filename string) {
	if e.state != StateConsumer || filename != e.consumerVideo.Value {
		return
	}
	e.requestFile(ctx)
	if !e.providersEverFound && e.onMessage != nil {
		e.onMessage(wire.Message{
			Type:        wire.TypeUserMessage,
			MessageText: "No providers found for the requested file",
		})
	}
}

// requestFile picks a provider, dials it via the relay circuit if not yet
// connected, and sends the directed FileRequest. At most one request is in
// flight per session.
func (e *Engine) requestFile(ctx context.Context) {
	if e.isRequesting || len(e.providers) == 0 {
		return
	}
	e.chosenProvider = e.providers[0]
	e.isRequesting = true

	provider := e.chosenProvider
	video := e.consumerVideo.Value
	go func() {
		if err := e.ensureConnected(ctx, provider); err != nil {
			e.log.Warnw("fileshare: dial provider failed", "provider", provider, "error", err)
			e.tick(func() { e.failFileRequest(provider) })
			return
		}
		req := wire.FileShareRequest{File: &wire.FileRequestMsg{UUID: uuid.NewString(), Video: video}}
		payload, err := wire.EncodeFileShareRequest(req)
		if err != nil {
			e.log.Errorw("fileshare: encode file request", "error", err)
			return
		}
		rctx, cancel := context.WithTimeout(ctx, transport.MessageTimeout)
		defer cancel()
		raw, err := e.fabric.Request(rctx, provider, transport.ProtoShare, payload)
		if err != nil {
			e.log.Warnw("fileshare: file request failed", "provider", provider, "error", err)
			e.tick(func() { e.failFileRequest(provider) })
			return
		}
		resp, err := wire.DecodeFileShareResponse(raw)
		if err != nil {
			e.log.Warnw("fileshare: decode file response", "error", err)
			return
		}
		e.tick(func() { e.completeFileRequest(resp) })
	}()
}

// failFileRequest runs on the dispatch goroutine when the outbound file
// request to the chosen provider failed: emit VideoProviderStopped and
// reset the session rather than failing over. The application retries by
// reissuing the FileRequest.
func (e *Engine) failFileRequest(provider peer.ID) {
	if e.state != StateConsumer || e.chosenProvider != provider {
		return
	}
	if e.onMessage != nil {
		e.onMessage(wire.Message{Type: wire.TypeProviderGone})
	}
	e.Reset()
}

// completeFileRequest surfaces the provider's answer to the application as
// a FileResponse ControlMessage.
func (e *Engine) completeFileRequest(resp wire.FileShareResponse) {
	if e.onMessage == nil {
		return
	}
	if resp.Err != nil {
		e.onMessage(wire.Message{Type: wire.TypeServerMessage, MessageText: *resp.Err, Error: true})
		return
	}
	if resp.File != nil {
		e.onMessage(wire.Message{
			Type:     wire.TypeFileResponse,
			UUID:     resp.File.UUID,
			Filename: resp.File.Video,
			Size:     resp.File.Size,
		})
	}
}

// ensureConnected dials provider via the relay circuit path if this peer
// has no existing connection to it yet.
func (e *Engine) ensureConnected(ctx context.Context, p peer.ID) error {
	if e.fabric.Host().Network().Connectedness(p) == network.Connected {
		return nil
	}
	if e.relay == nil {
		return fmt.Errorf("no relay address configured for circuit dial")
	}
	addrStr := fmt.Sprintf("%s/p2p-circuit/p2p/%s", e.relay.String(), p.String())
	addr, err := ma.NewMultiaddr(addrStr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	return e.fabric.Host().Connect(ctx, *info)
}

// RequestChunk routes an application-generated ChunkRequest to the chosen
// provider. It is an error to call this without an active, connected
// provider.
func (e *Engine) RequestChunk(ctx context.Context, start, length uint64) error {
	if e.state != StateConsumer || e.chosenProvider == "" {
		if e.onMessage != nil {
			e.onMessage(wire.Message{Type: wire.TypeProviderGone})
		}
		return fmt.Errorf("fileshare: no active provider for chunk request")
	}
	id := uuid.NewString()
	e.chunkRequests[id] = e.chosenProvider

	req := wire.FileShareRequest{Chunk: &wire.ChunkRequestMsg{UUID: id, Start: start, Length: length}}
	payload, err := wire.EncodeFileShareRequest(req)
	if err != nil {
		delete(e.chunkRequests, id)
		return err
	}

	provider := e.chosenProvider
	go func() {
		rctx, cancel := context.WithTimeout(ctx, transport.MessageTimeout)
		defer cancel()
		raw, err := e.fabric.Request(rctx, provider, transport.ProtoShare, payload)
		if err != nil {
			e.log.Warnw("fileshare: chunk request failed, provider gone", "provider", provider, "error", err)
			e.tick(func() { e.failChunk(id) })
			return
		}
		resp, err := wire.DecodeFileShareResponse(raw)
		if err != nil {
			e.log.Warnw("fileshare: decode chunk response", "error", err)
			e.tick(func() { delete(e.chunkRequests, id) })
			return
		}
		e.tick(func() { e.completeChunk(id, resp) })
	}()
	return nil
}

// failChunk runs on the dispatch goroutine when an outbound chunk request
// failed: VideoProviderStopped upcall, then session reset.
func (e *Engine) failChunk(id string) {
	if _, ok := e.chunkRequests[id]; !ok {
		return // session already reset, stale failure
	}
	delete(e.chunkRequests, id)
	if e.onMessage != nil {
		e.onMessage(wire.Message{Type: wire.TypeProviderGone})
	}
	e.Reset()
}

// completeChunk surfaces the received bytes to the application as a
// ChunkResponse ControlMessage.
func (e *Engine) completeChunk(id string, resp wire.FileShareResponse) {
	if _, ok := e.chunkRequests[id]; !ok {
		return // session already reset, drop stale bytes
	}
	delete(e.chunkRequests, id)
	if e.onMessage == nil {
		return
	}
	if resp.Err != nil {
		e.onMessage(wire.Message{Type: wire.TypeServerMessage, MessageText: *resp.Err, Error: true})
		return
	}
	if resp.Chunk != nil {
		start := resp.Chunk.Start
		e.onMessage(wire.Message{
			Type:  wire.TypeChunkResponse,
			UUID:  resp.Chunk.UUID,
			Start: &start,
			Bytes: resp.Chunk.Bytes,
		})
	}
}

// HandleInboundRequest dispatches an incoming /fileshare/1 request on the
// provider side. respond must be called exactly once with the encoded
// FileShareResponse.
func (e *Engine) HandleInboundRequest(from peer.ID, data []byte, respond func([]byte)) {
	req, err := wire.DecodeFileShareRequest(data)
	if err != nil {
		e.log.Warnw("fileshare: decode inbound request", "from", from, "error", err)
		errMsg := "Not providing any files"
		payload, _ := wire.EncodeFileShareResponse(wire.FileShareResponse{Err: &errMsg})
		respond(payload)
		return
	}

	if e.state != StateProvider {
		errMsg := "Not providing any files"
		payload, _ := wire.EncodeFileShareResponse(wire.FileShareResponse{Err: &errMsg})
		respond(payload)
		return
	}

	switch {
	case req.File != nil:
		e.pendingFileResponses[req.File.UUID] = func(resp wire.FileShareResponse) {
			payload, _ := wire.EncodeFileShareResponse(resp)
			respond(payload)
		}
		if e.onFileRequested != nil {
			e.onFileRequested(FileRequested{
				From:     from,
				UUID:     req.File.UUID,
				Filename: req.File.Video,
				Respond: func(video *string, size *uint64, errStr *string) {
					e.RespondFile(req.File.UUID, video, size, errStr)
				},
			})
		}
	case req.Chunk != nil:
		e.pendingChunkResponses[req.Chunk.UUID] = func(resp wire.FileShareResponse) {
			payload, _ := wire.EncodeFileShareResponse(resp)
			respond(payload)
		}
		if e.onChunkRequested != nil {
			e.onChunkRequested(ChunkRequested{
				From:     from,
				UUID:     req.Chunk.UUID,
				Filename: e.providingVideo.Value,
				Start:    req.Chunk.Start,
				Length:   req.Chunk.Length,
				Respond: func(bytes []byte, errStr *string) {
					e.RespondChunk(req.Chunk.UUID, req.Chunk.Start, bytes, errStr)
				},
			})
		}
	default:
		errMsg := "malformed fileshare request"
		payload, _ := wire.EncodeFileShareResponse(wire.FileShareResponse{Err: &errMsg})
		respond(payload)
	}
}

// RespondFile answers a pending FileRequested by uuid. video == nil means
// this peer isn't providing that file after all (status NotProviding on the
// wire, surfaced as Err here for the caller's convenience).
func (e *Engine) RespondFile(id string, video *string, size *uint64, errStr *string) {
	respond, ok := e.pendingFileResponses[id]
	if !ok {
		return
	}
	delete(e.pendingFileResponses, id)
	if video == nil && errStr == nil {
		notProviding := "NotProviding"
		errStr = &notProviding
	}
	if errStr != nil {
		respond(wire.FileShareResponse{Err: errStr})
		return
	}
	respond(wire.FileShareResponse{File: fileResponseMsg(id, video, size)})
}

func fileResponseMsg(id string, video *string, size *uint64) *wire.FileResponseMsg {
	if video == nil {
		return nil
	}
	return &wire.FileResponseMsg{UUID: id, Video: video, Size: size}
}

// RespondChunk answers a pending ChunkRequested by uuid.
func (e *Engine) RespondChunk(id string, start uint64, data []byte, errStr *string) {
	respond, ok := e.pendingChunkResponses[id]
	if !ok {
		return
	}
	delete(e.pendingChunkResponses, id)
	var chunk *wire.ChunkResponseMsg
	if errStr == nil {
		chunk = &wire.ChunkResponseMsg{UUID: id, Start: start, Bytes: data}
	}
	respond(wire.FileShareResponse{Chunk: chunk, Err: errStr})
}
