package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/n0remac/syncroom/fileindex"
	"github.com/n0remac/syncroom/fileshare"
	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/wire"
)

// resolveFileRequest and resolveChunkRequest answer a remote peer's
// provider-side requests: when a file index is wired in, consult it
// directly and reply; when there is none, surface the request to the
// application through the facade instead. The pending handle stays live
// until the application answers with a FileResponse/ChunkResponse
// ControlMessage carrying the same uuid, which OnOutbound routes back into
// the engine.
func resolveFileRequest(index fileindex.Index, req fileshare.FileRequested, surface func(wire.Message)) {
	if index == nil {
		name := req.Filename
		surface(wire.Message{Type: wire.TypeFileRequest, UUID: req.UUID, Filename: &name})
		return
	}
	entry, ok := index.FindFile(req.Filename)
	if !ok {
		req.Respond(nil, nil, nil)
		return
	}
	video := req.Filename
	size := uint64(entry.Size)
	req.Respond(&video, &size, nil)
}

func resolveChunkRequest(index fileindex.Index, req fileshare.ChunkRequested, surface func(wire.Message)) {
	if index == nil {
		start, length := req.Start, req.Length
		surface(wire.Message{Type: wire.TypeChunkRequest, UUID: req.UUID, Start: &start, Length: &length})
		return
	}
	errMsg := "not providing any files"
	entry, ok := index.FindFile(req.Filename)
	if !ok {
		req.Respond(nil, &errMsg)
		return
	}
	data, err := fileindex.ReadChunk(entry, req.Start, req.Length)
	if err != nil {
		ioErr := err.Error()
		req.Respond(nil, &ioErr)
		return
	}
	req.Respond(data, nil)
}

// routeFileShare forwards the four chunk-level ControlMessage kinds from
// the application into the file-share engine. Runs on the dispatch
// goroutine, like every other engine call.
func routeFileShare(ctx context.Context, e *fileshare.Engine, log *zap.SugaredLogger, m wire.Message) {
	switch m.Type {
	case wire.TypeFileRequest:
		if m.Filename == nil {
			log.Warnw("file request without filename", "type", m.Type)
			return
		}
		if err := e.BecomeConsumer(ctx, room.Parse(*m.Filename)); err != nil {
			log.Warnw("become consumer failed", "error", err)
		}
	case wire.TypeChunkRequest:
		if m.Start == nil || m.Length == nil {
			log.Warnw("chunk request without byte range")
			return
		}
		if err := e.RequestChunk(ctx, *m.Start, *m.Length); err != nil {
			log.Warnw("chunk request failed", "error", err)
		}
	case wire.TypeFileResponse:
		e.RespondFile(m.UUID, m.Filename, m.Size, responseError(m))
	case wire.TypeChunkResponse:
		var start uint64
		if m.Start != nil {
			start = *m.Start
		}
		e.RespondChunk(m.UUID, start, m.Bytes, responseError(m))
	}
}

func responseError(m wire.Message) *string {
	if !m.Error {
		return nil
	}
	msg := m.MessageText
	return &msg
}
