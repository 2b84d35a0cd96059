package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinCreatesRoom(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)

	snap, err := r.Join("r1", "a")
	require.NoError(t, err)
	assert.Equal(t, "r1", snap.ID)
	assert.Equal(t, []string{"a"}, snap.Members)
	assert.True(t, r.Exists("r1"))
	assert.True(t, r.IsMember("r1", "a"))
	assert.False(t, r.IsMember("r1", "b"))
	assert.False(t, r.IsMember("missing", "a"))
}

func TestRegistry_InvalidRoomID(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	for _, id := range []string{"", "   ", "\t\n"} {
		_, err := r.Join(id, "a")
		assert.ErrorIs(t, err, ErrInvalidRoomID, "room id %q", id)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Capacity(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	for i := 0; i < 49; i++ {
		_, err := r.Join("r1", fmt.Sprintf("c%02d", i))
		require.NoError(t, err)
	}

	// the 50th join fills the room
	snap, err := r.Join("r1", "c49")
	require.NoError(t, err)
	assert.Len(t, snap.Members, 50)

	_, err = r.Join("r1", "c50")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.False(t, r.IsMember("r1", "c50"))
	assert.Len(t, r.MembersOf("r1"), 50)

	// a full room rejects re-joins too, without dropping the member
	_, err = r.Join("r1", "c00")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.True(t, r.IsMember("r1", "c00"))
	assert.Len(t, r.MembersOf("r1"), 50)

	// below capacity a re-join is a no-op success
	r.Leave("c49", "r1")
	snap, err = r.Join("r1", "c00")
	require.NoError(t, err)
	assert.Len(t, snap.Members, 49)
}

func TestRegistry_LeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	_, _ = r.Join("r1", "a")
	_, _ = r.Join("r1", "b")

	removed, deleted := r.Leave("a", "r1")
	assert.True(t, removed)
	assert.False(t, deleted)
	assert.Equal(t, []string{"b"}, r.MembersOf("r1"))

	removed, deleted = r.Leave("b", "r1")
	assert.True(t, removed)
	assert.True(t, deleted)
	assert.False(t, r.Exists("r1"))

	// idempotent
	removed, deleted = r.Leave("b", "r1")
	assert.False(t, removed)
	assert.False(t, deleted)
}

func TestRegistry_RecreatedFresh(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	_, _ = r.Join("r1", "a")
	_, _ = r.Join("r1", "b")
	r.Leave("a", "r1")
	r.Leave("b", "r1")

	snap, err := r.Join("r1", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, snap.Members)
}

func TestRegistry_MultipleRoomsPerConnection(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	_, err := r.Join("r1", "a")
	require.NoError(t, err)
	_, err = r.Join("r2", "a")
	require.NoError(t, err)

	assert.True(t, r.IsMember("r1", "a"))
	assert.True(t, r.IsMember("r2", "a"))
	assert.Equal(t, []RoomSummary{{ID: "r1", Members: 1}, {ID: "r2", Members: 1}}, r.Rooms())
}

func TestRegistry_MembersOfIsSnapshot(t *testing.T) {
	r := NewRegistry(DefaultMaxRoomSize)
	_, _ = r.Join("r1", "a")
	members := r.MembersOf("r1")
	_, _ = r.Join("r1", "b")
	assert.Equal(t, []string{"a"}, members)
	assert.Empty(t, r.MembersOf("missing"))
}
