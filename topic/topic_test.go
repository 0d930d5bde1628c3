package topic_test

import (
	"testing"

	"github.com/n0remac/syncroom/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesDeterministic(t *testing.T) {
	a := topic.Bytes("movie-night", "hunter2")
	b := topic.Bytes("movie-night", "hunter2")
	require.Equal(t, a, b)
}

func TestBytesDivergeOnPassword(t *testing.T) {
	a := topic.Bytes("movie-night", "hunter2")
	b := topic.Bytes("movie-night", "hunter3")
	assert.NotEqual(t, a, b)
}

func TestBytesDivergeOnRoom(t *testing.T) {
	a := topic.Bytes("movie-night", "hunter2")
	b := topic.Bytes("book-club", "hunter2")
	assert.NotEqual(t, a, b)
}

func TestRoomKeyNeverCarriesCleartextPassword(t *testing.T) {
	rk := topic.NewRoomKey("movie-night", "hunter2")
	assert.Equal(t, "movie-night", rk.Room)
	assert.NotContains(t, rk.PasswordHash, "hunter2")
	assert.Len(t, rk.PasswordHash, 64) // hex-encoded sha256
}
