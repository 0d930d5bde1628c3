package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeBinary and DecodeBinary implement the compact binary form used on
// /niketsu-message/1; CBOR preserves integer and byte-string fidelity
// where JSON would not.
func EncodeBinary(m Message, outbound bool) ([]byte, error) {
	if outbound && outboundOnlyUsername[m.Type] {
		m.Username = ""
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode cbor: %w", err)
	}
	return data, nil
}

// DecodeBinary parses the CBOR form, rejecting unknown discriminators.
func DecodeBinary(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode cbor: %w", err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// FileRequestMsg is the fileshare-channel request for a whole file.
type FileRequestMsg struct {
	UUID  string `cbor:"uuid"`
	Video string `cbor:"video"`
}

// FileResponseMsg answers a FileRequestMsg: video/size are absent when the
// responder isn't providing the file.
type FileResponseMsg struct {
	UUID  string  `cbor:"uuid"`
	Video *string `cbor:"video,omitempty"`
	Size  *uint64 `cbor:"size,omitempty"`
}

// ChunkRequestMsg asks for length bytes starting at start.
type ChunkRequestMsg struct {
	UUID   string `cbor:"uuid"`
	Start  uint64 `cbor:"start"`
	Length uint64 `cbor:"length"`
}

// ChunkResponseMsg carries the requested bytes back.
type ChunkResponseMsg struct {
	UUID  string `cbor:"uuid"`
	Start uint64 `cbor:"start"`
	Bytes []byte `cbor:"bytes"`
}

// FileShareRequest is the tagged union {File: FileRequestMsg} |
// {Chunk: ChunkRequestMsg} sent on /fileshare/1.
type FileShareRequest struct {
	File  *FileRequestMsg  `cbor:"File,omitempty"`
	Chunk *ChunkRequestMsg `cbor:"Chunk,omitempty"`
}

// FileShareResponse is Result<{File:...}|{Chunk:...}, string>: exactly one
// of File, Chunk, or Err is set.
type FileShareResponse struct {
	File  *FileResponseMsg  `cbor:"File,omitempty"`
	Chunk *ChunkResponseMsg `cbor:"Chunk,omitempty"`
	Err   *string           `cbor:"Err,omitempty"`
}

// EncodeFileShareRequest/DecodeFileShareRequest and the Response equivalents
// are the CBOR codec for the /fileshare/1 protocol.
func EncodeFileShareRequest(r FileShareRequest) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode fileshare request: %w", err)
	}
	return data, nil
}

func DecodeFileShareRequest(data []byte) (FileShareRequest, error) {
	var r FileShareRequest
	if err := cbor.Unmarshal(data, &r); err != nil {
		return FileShareRequest{}, fmt.Errorf("wire: decode fileshare request: %w", err)
	}
	return r, nil
}

func EncodeFileShareResponse(r FileShareResponse) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode fileshare response: %w", err)
	}
	return data, nil
}

func DecodeFileShareResponse(data []byte) (FileShareResponse, error) {
	var r FileShareResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return FileShareResponse{}, fmt.Errorf("wire: decode fileshare response: %w", err)
	}
	return r, nil
}

// Ack is the minimal acknowledgement a /niketsu-message/1 directed request
// gets back once the receiver has applied it; the control wire schema has
// no dedicated response payload for most directed messages, only a yes/no
// outcome.
type Ack struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

func EncodeAck(a Ack) []byte {
	data, err := cbor.Marshal(a)
	if err != nil {
		// Ack is a fixed, always-marshalable shape; a failure here means
		// the cbor library itself is broken.
		panic(fmt.Sprintf("wire: encode ack: %v", err))
	}
	return data
}

func DecodeAck(data []byte) (Ack, error) {
	var a Ack
	if err := cbor.Unmarshal(data, &a); err != nil {
		return Ack{}, fmt.Errorf("wire: decode ack: %w", err)
	}
	return a, nil
}

// InitRequest is the /authorisation/1 rendezvous request.
type InitRequest struct {
	Room         string `cbor:"room"`
	PasswordHash string `cbor:"password_hash"`
}

// InitStatus is the outcome discriminator for InitResponse.
type InitStatus string

const (
	InitOk           InitStatus = "Ok"
	InitErr          InitStatus = "Err"
	InitNotProviding InitStatus = "NotProviding"
)

// InitResponse answers an InitRequest. PeerID is the room's current host,
// or empty if this process is to become the host itself.
type InitResponse struct {
	Status InitStatus `cbor:"status"`
	PeerID string     `cbor:"peer_id,omitempty"`
}

func EncodeInitRequest(r InitRequest) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode init request: %w", err)
	}
	return data, nil
}

func DecodeInitRequest(data []byte) (InitRequest, error) {
	var r InitRequest
	if err := cbor.Unmarshal(data, &r); err != nil {
		return InitRequest{}, fmt.Errorf("wire: decode init request: %w", err)
	}
	return r, nil
}

func EncodeInitResponse(r InitResponse) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode init response: %w", err)
	}
	return data, nil
}

func DecodeInitResponse(data []byte) (InitResponse, error) {
	var r InitResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return InitResponse{}, fmt.Errorf("wire: decode init response: %w", err)
	}
	return r, nil
}
