package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Directed request/response streams, one protocol per traffic class:
// control-plane on ProtoMessage, chunk/file-share on ProtoShare (framed
// separately so a slow file-share consumer cannot stall control traffic),
// and the rendezvous handshake on ProtoAuth.
//
// Each stream carries exactly one length-prefixed request followed by one
// length-prefixed response, then closes.

const maxFrameSize = 64 << 20 // 64MiB, generous headroom over a chunk response

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *Fabric) registerStreamHandlers() {
	f.host.SetStreamHandler(ProtoMessage, f.handleDirectedStream)
	f.host.SetStreamHandler(ProtoShare, f.handleDirectedStream)
	f.host.SetStreamHandler(ProtoAuth, f.handleDirectedStream)
}

func (f *Fabric) handleDirectedStream(s network.Stream) {
	proto := string(s.Protocol())
	remote := s.Conn().RemotePeer()

	rw := bufio.NewReadWriter(bufio.NewReader(s), bufio.NewWriter(s))
	data, err := readFrame(rw)
	if err != nil {
		f.log.Warnw("directed stream read failed", "peer", remote, "protocol", proto, "error", err)
		_ = s.Reset()
		return
	}

	respond := func(resp []byte) {
		if err := writeFrame(rw, resp); err != nil {
			f.log.Warnw("directed stream write failed", "peer", remote, "protocol", proto, "error", err)
			_ = s.Reset()
			return
		}
		if err := rw.Flush(); err != nil {
			f.log.Warnw("directed stream flush failed", "peer", remote, "protocol", proto, "error", err)
		}
		_ = s.Close()
	}

	f.emit(Event{
		Kind:     EventDirectedRequest,
		Peer:     remote,
		Data:     data,
		Protocol: proto,
		Respond:  respond,
		At:       time.Now(),
	})
}

// Request opens a new stream to p on protoID, writes data as a single
// framed request, and blocks for the single framed response. Callers supply
// ctx with the deadline their traffic class calls for (MessageTimeout for
// control and file-share, RendezvousTimeout for authorisation).
func (f *Fabric) Request(ctx context.Context, p peer.ID, protoID protocol.ID, data []byte) ([]byte, error) {
	s, err := f.host.NewStream(ctx, p, protoID)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream to %s on %s: %w", p, protoID, err)
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}

	rw := bufio.NewReadWriter(bufio.NewReader(s), bufio.NewWriter(s))
	if err := writeFrame(rw, data); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("transport: write request to %s: %w", p, err)
	}
	if err := rw.Flush(); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("transport: flush request to %s: %w", p, err)
	}

	resp, err := readFrame(rw)
	if err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("transport: read response from %s: %w", p, err)
	}
	return resp, nil
}
