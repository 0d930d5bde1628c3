// Package player is the boundary to the embedding application's media
// player: the coordinator emits playback commands and consumes playback
// events through this port; no player implementation lives in this module.
package player

import (
	"time"

	"github.com/n0remac/syncroom/fileindex"
	"github.com/n0remac/syncroom/room"
)

// Commands is implemented by the embedding application's media player
// binding. The core calls these in response to Select/VideoStatus/Pause/
// Start/PlaybackSpeed traffic; it never reads player state directly.
type Commands interface {
	LoadVideo(video room.Video, position time.Duration, index fileindex.Index) error
	SetPosition(d time.Duration)
	Pause()
	Start()
	SetSpeed(speed float64)
	UnloadVideo()
}

// Events is implemented by the core's caller to report playback state
// changes so the coordinator can generate outbound VideoStatus/Seek/Pause/
// Start/PlaybackSpeed messages, the reverse direction of
// Commands. This module defines the shape; wiring an Events implementation
// into a running coordinator is left to the embedding application, which
// calls facade.Send with the resulting wire.Message.
type Events interface {
	OnPositionChanged(d time.Duration)
	OnPauseChanged(paused bool)
	OnEndOfFile()
	OnSpeedChanged(speed float64)
}
