package room_test

import (
	"testing"

	"github.com/n0remac/syncroom/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistInsertSetSemantics(t *testing.T) {
	p := room.NewPlaylist()
	p.Insert(room.File("a.mp4"))
	p.Insert(room.File("b.mp4"))
	p.Insert(room.File("a.mp4")) // no-op, preserves position

	require.Equal(t, 2, p.Len())
	assert.Equal(t, 0, p.IndexOf(room.File("a.mp4")))
	assert.Equal(t, 1, p.IndexOf(room.File("b.mp4")))
}

func TestSelectNextScenario4Deletion(t *testing.T) {
	// P = ["a","b","c"], Selection = "b", and the playlist shrinks to
	// ["a","c"]: the selection moves to "c".
	oldPlaylist := room.NewPlaylist(room.File("a"), room.File("b"), room.File("c"))
	newPlaylist := room.NewPlaylist(room.File("a"), room.File("c"))
	current := room.Selection{HasVideo: true, Video: room.File("b")}

	result := room.SelectNext(oldPlaylist, newPlaylist, current)

	require.True(t, result.Changed)
	assert.Equal(t, room.File("c"), result.Video)
}

func TestSelectNextNoChangeWhenSelectionSurvives(t *testing.T) {
	oldPlaylist := room.NewPlaylist(room.File("a"), room.File("b"), room.File("c"))
	newPlaylist := room.NewPlaylist(room.File("a"), room.File("b"))
	current := room.Selection{HasVideo: true, Video: room.File("a")}

	result := room.SelectNext(oldPlaylist, newPlaylist, current)

	assert.False(t, result.Changed)
}

func TestSelectNextNoChangeWhenPlaylistGrows(t *testing.T) {
	oldPlaylist := room.NewPlaylist(room.File("a"))
	newPlaylist := room.NewPlaylist(room.File("a"), room.File("b"))
	current := room.Selection{HasVideo: true, Video: room.File("a")}

	result := room.SelectNext(oldPlaylist, newPlaylist, current)

	assert.False(t, result.Changed)
}

func TestSelectNextClampsToLastIndex(t *testing.T) {
	oldPlaylist := room.NewPlaylist(room.File("a"), room.File("b"), room.File("c"), room.File("d"))
	newPlaylist := room.NewPlaylist(room.File("a"))
	current := room.Selection{HasVideo: true, Video: room.File("d")}

	result := room.SelectNext(oldPlaylist, newPlaylist, current)

	require.True(t, result.Changed)
	assert.Equal(t, room.File("a"), result.Video)
}
