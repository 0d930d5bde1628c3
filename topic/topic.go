// Package topic derives the rendezvous room key and pub/sub topic bytes from
// a room name and password. Both are pure functions of their inputs: two
// processes given the same (room, password) always agree, and a wrong
// password never collides with the right one.
package topic

import (
	"crypto/sha256"
	"encoding/hex"
)

// RoomKey is what gets presented at rendezvous: the room name plus the
// hashed password (never the password itself, so it can be logged safely).
type RoomKey struct {
	Room         string
	PasswordHash string // hex-encoded sha256(password)
}

// NewRoomKey hashes password and pairs it with room.
func NewRoomKey(room, password string) RoomKey {
	sum := sha256.Sum256([]byte(password))
	return RoomKey{Room: room, PasswordHash: hex.EncodeToString(sum[:])}
}

// Bytes returns the pub/sub topic identifier: SHA256(room|password), where
// password is the cleartext UTF-8 password. This is distinct from
// PasswordHash above, which protects the password at the rendezvous hop;
// the topic bytes protect nothing, they only need to be a pure
// deterministic function of (room, password) so mismatched rooms/passwords
// never share a topic.
func Bytes(room, password string) []byte {
	sum := sha256.Sum256([]byte(room + "|" + password))
	return sum[:]
}

// String returns the hex-encoded topic, suitable as a gossipsub topic name.
func String(room, password string) string {
	return hex.EncodeToString(Bytes(room, password))
}
