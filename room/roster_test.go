package room_test

import (
	"testing"

	"github.com/n0remac/syncroom/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterAllReady(t *testing.T) {
	r := room.NewRoster()
	assert.False(t, r.AllReady(), "empty roster is never all-ready")

	r.Upsert(room.UserStatus{Name: "alice", Ready: true})
	r.Upsert(room.UserStatus{Name: "bob", Ready: false})
	assert.False(t, r.AllReady())

	r.Upsert(room.UserStatus{Name: "bob", Ready: true})
	assert.True(t, r.AllReady())
}

func TestRosterListOrderedByName(t *testing.T) {
	r := room.NewRoster()
	r.Upsert(room.UserStatus{Name: "zed"})
	r.Upsert(room.UserStatus{Name: "alice"})
	r.Upsert(room.UserStatus{Name: "mallory"})

	names := make([]string, 0)
	for _, s := range r.List() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"alice", "mallory", "zed"}, names)
}

func TestRosterUniqueNames(t *testing.T) {
	r := room.NewRoster()
	r.Upsert(room.UserStatus{Name: "alice", Ready: false})
	r.Upsert(room.UserStatus{Name: "alice", Ready: true})
	require.Equal(t, 1, r.Len())
	s, ok := r.Get("alice")
	require.True(t, ok)
	assert.True(t, s.Ready)
}
