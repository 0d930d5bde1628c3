// Package coordinator implements the host and client halves of room
// coordination: the host owns the authoritative roster, playlist, and
// selection, while clients mirror them from broadcasts and forward local
// intent to the host as directed requests. Both are built on
// transport.Fabric, room's pure data types, and fileshare.Engine.
package coordinator

import (
	"github.com/n0remac/syncroom/room"
	"github.com/n0remac/syncroom/wire"
)

func selectionToWire(sel room.Selection) wire.Message {
	m := wire.Message{Type: wire.TypeSelect, Username: sel.Actor}
	if sel.HasVideo {
		name := sel.Video.Value
		m.Filename = &name
	}
	m.WithPositionDuration(sel.Position)
	return m
}

func wireToSelection(m wire.Message) room.Selection {
	sel := room.Selection{Actor: m.Username}
	if d, ok := m.PositionDuration(); ok {
		sel.Position = d
	}
	if m.Filename != nil {
		sel.HasVideo = true
		sel.Video = room.Parse(*m.Filename)
	}
	return sel
}

func playlistToWire(p *room.Playlist) wire.Message {
	items := p.Items()
	files := make([]string, len(items))
	for i, v := range items {
		files[i] = v.Value
	}
	return wire.Message{Type: wire.TypePlaylist, PlaylistFiles: files}
}

func wireToPlaylist(m wire.Message) *room.Playlist {
	videos := make([]room.Video, len(m.PlaylistFiles))
	for i, f := range m.PlaylistFiles {
		videos[i] = room.Parse(f)
	}
	return room.NewPlaylist(videos...)
}

func userStatusToWire(s room.UserStatus) wire.Message {
	return wire.Message{Type: wire.TypeUserStatus, Username: s.Name, Ready: s.Ready}
}

func wireToUserStatus(m wire.Message) room.UserStatus {
	return room.UserStatus{Name: m.Username, Ready: m.Ready}
}

func statusListToWire(roomName string, roster *room.Roster) wire.Message {
	entries := roster.List()
	wireEntries := make([]wire.UserStatus, len(entries))
	for i, s := range entries {
		wireEntries[i] = wire.UserStatus{Username: s.Name, Ready: s.Ready}
	}
	return wire.Message{
		Type:  wire.TypeStatusList,
		Rooms: map[string][]wire.UserStatus{roomName: wireEntries},
	}
}
