// Package wire implements the ControlMessage tagged union: canonical JSON
// encode/decode keyed by a "type" discriminator, plus a CBOR binary form
// for the fileshare and control-plane request/response streams.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the wire discriminator.
type Type string

const (
	TypePing          Type = "ping"
	TypeJoin          Type = "join"
	TypeVideoStatus   Type = "videoStatus"
	TypeStatusList    Type = "statusList"
	TypePause         Type = "pause"
	TypeStart         Type = "start"
	TypePlaybackSpeed Type = "playbackSpeed"
	TypeSeek          Type = "seek"
	TypeSelect        Type = "select"
	TypeUserMessage   Type = "userMessage"
	TypeServerMessage Type = "serverMessage"
	TypePlaylist      Type = "playlist"
	TypeUserStatus    Type = "status"
	TypeConnected     Type = "connected"
	TypeChunkRequest  Type = "chunkRequest"
	TypeChunkResponse Type = "chunkResponse"
	TypeFileRequest   Type = "fileRequest"
	TypeFileResponse  Type = "fileResponse"
	TypeVideoShare    Type = "videoShare"
	TypeProviderGone  Type = "videoProviderStopped"
)

// ErrUnknownType is returned by Decode for an unrecognised discriminator:
// an unknown type is always a decode failure, never a silently dropped
// message.
var ErrUnknownType = errors.New("wire: unknown message type")

// Message is the ControlMessage tagged union. Only the fields relevant to
// Type are populated; Position/Speed carry Duration/float64 payloads in their
// wire-native shapes (non-negative integer milliseconds, IEEE-754 double).
type Message struct {
	Type Type `json:"type"`

	// ping
	UUID string `json:"uuid,omitempty"`

	// join
	Password string `json:"password,omitempty"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`

	// videoStatus
	Filename    *string `json:"filename,omitempty"`
	Position    *int64  `json:"position,omitempty"` // millis
	Speed       float64 `json:"speed,omitempty"`
	Paused      bool    `json:"paused,omitempty"`
	FileLoaded  bool    `json:"fileLoaded,omitempty"`
	Desync      bool    `json:"desync,omitempty"`

	// statusList
	Rooms map[string][]UserStatus `json:"rooms,omitempty"`

	// userMessage / serverMessage
	MessageText string `json:"message,omitempty"`
	Error       bool   `json:"error,omitempty"`

	// playlist
	PlaylistFiles []string `json:"playlist,omitempty"`

	// status
	Ready bool `json:"ready,omitempty"`

	// videoShare
	Share *string `json:"share,omitempty"`

	// chunkRequest / chunkResponse / fileResponse: the facade-level shapes
	// of the /fileshare/1 traffic (the wire forms on that stream are the
	// dedicated CBOR unions in binary.go; these fields only exist so chunk
	// traffic can cross the application boundary as ControlMessages).
	Start  *uint64 `json:"start,omitempty"`
	Length *uint64 `json:"length,omitempty"`
	Size   *uint64 `json:"size,omitempty"`
	Bytes  []byte  `json:"bytes,omitempty"`
}

// UserStatus is the wire shape nested inside statusList.rooms.
type UserStatus struct {
	Username string `json:"username"`
	Ready    bool   `json:"ready"`
}

// outboundOnlyUsername lists the discriminators whose Username field is
// outbound-only: EncodeJSON and EncodeBinary clear it when called with
// outbound set, and keep it otherwise.
var outboundOnlyUsername = map[Type]bool{
	TypePause:         true,
	TypeStart:         true,
	TypePlaybackSpeed: true,
	TypeSeek:          true,
	TypeSelect:        true,
	TypeUserMessage:   true,
	TypePlaylist:      true,
}

// PositionDuration converts the wire millis field to a time.Duration.
func (m Message) PositionDuration() (time.Duration, bool) {
	if m.Position == nil {
		return 0, false
	}
	return time.Duration(*m.Position) * time.Millisecond, true
}

// WithPositionDuration sets Position from a time.Duration.
func (m *Message) WithPositionDuration(d time.Duration) {
	ms := d.Milliseconds()
	m.Position = &ms
}

// EncodeJSON serializes m to its canonical JSON form. direction indicates
// whether this is an outbound message (in which case the outbound-only
// Username field, if any, is stripped before marshaling).
func EncodeJSON(m Message, outbound bool) ([]byte, error) {
	if outbound && outboundOnlyUsername[m.Type] {
		m.Username = ""
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeJSON parses the canonical JSON form, rejecting unknown
// discriminators outright.
func DecodeJSON(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode json: %w", err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m Message) error {
	switch m.Type {
	case TypePing, TypeJoin, TypeVideoStatus, TypeStatusList, TypePause, TypeStart,
		TypePlaybackSpeed, TypeSeek, TypeSelect, TypeUserMessage, TypeServerMessage,
		TypePlaylist, TypeUserStatus, TypeConnected, TypeChunkRequest, TypeChunkResponse,
		TypeFileRequest, TypeFileResponse, TypeVideoShare, TypeProviderGone:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// SpeedEqual is the NaN-safe speed comparison: NaN is never equal to
// anything, including itself, and must never be placed on the wire.
func SpeedEqual(a, b float64) bool {
	if a != a || b != b { // either is NaN
		return false
	}
	return a == b
}
