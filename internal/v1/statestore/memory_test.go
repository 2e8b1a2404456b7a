package statestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticechat/chatcore/internal/v1/types"
)

func TestMemoryStore_RoomLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.GetRoom(ctx, "general"), types.ErrNotFound)

	require.NoError(t, s.AddRoom(ctx, "general", "alice", false))
	assert.NoError(t, s.GetRoom(ctx, "general"))
	assert.ErrorIs(t, s.AddRoom(ctx, "general", "alice", false), types.ErrAlreadyExists)

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.RoomName{"general"}, rooms)

	require.NoError(t, s.RemoveRoom(ctx, "general"))
	assert.ErrorIs(t, s.GetRoom(ctx, "general"), types.ErrNotFound)
	assert.ErrorIs(t, s.RemoveRoom(ctx, "general"), types.ErrNotFound)
}

func TestMemoryStore_LoginLogout(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sock := types.SocketKey{Instance: "i1", Socket: "s1"}

	assert.ErrorIs(t, s.GetOnlineUser(ctx, "alice"), types.ErrNotFound)
	require.NoError(t, s.LoginUser(ctx, "alice", sock))
	assert.NoError(t, s.GetOnlineUser(ctx, "alice"))

	sockets, err := s.SocketsGetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []types.SocketKey{sock}, sockets)

	require.NoError(t, s.LogoutUser(ctx, "alice"))
	assert.ErrorIs(t, s.GetOnlineUser(ctx, "alice"), types.ErrNotFound)
	assert.ErrorIs(t, s.LogoutUser(ctx, "alice"), types.ErrNotFound)
}

func TestMemoryStore_Sockets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := types.SocketKey{Instance: "i1", Socket: "a"}
	b := types.SocketKey{Instance: "i1", Socket: "b"}

	_, err := s.SocketsGetAll(ctx, "alice")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.SocketAdd(ctx, "alice", a))
	require.NoError(t, s.SocketAdd(ctx, "alice", b))

	sockets, err := s.SocketsGetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sockets, 2)

	require.NoError(t, s.SocketRemove(ctx, "alice", a))
	sockets, err = s.SocketsGetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []types.SocketKey{b}, sockets)
}

func TestMemoryStore_Rooms(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.RoomAdd(ctx, "alice", "general"), types.ErrNotFound)

	require.NoError(t, s.LoginUser(ctx, "alice", types.SocketKey{Instance: "i1", Socket: "s1"}))
	require.NoError(t, s.RoomAdd(ctx, "alice", "general"))
	require.NoError(t, s.RoomAdd(ctx, "alice", "random"))

	rooms, err := s.RoomsGetAll(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.RoomName{"general", "random"}, rooms)

	require.NoError(t, s.RoomRemove(ctx, "alice", "general"))
	rooms, err = s.RoomsGetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []types.RoomName{"random"}, rooms)
}

func TestMemoryStore_Lists(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddRoom(ctx, "general", "alice", false))

	_, err := s.HasInList(ctx, types.EntityRoom, "missing", "blacklist", "bob")
	assert.ErrorIs(t, err, types.ErrNotFound)

	has, err := s.HasInList(ctx, types.EntityRoom, "general", "blacklist", "bob")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.AddToList(ctx, types.EntityRoom, "general", "blacklist", []string{"bob", "carol"}))
	has, err = s.HasInList(ctx, types.EntityRoom, "general", "blacklist", "bob")
	require.NoError(t, err)
	assert.True(t, has)

	values, err := s.GetList(ctx, types.EntityRoom, "general", "blacklist")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, values)

	require.NoError(t, s.RemoveFromList(ctx, types.EntityRoom, "general", "blacklist", []string{"bob"}))
	values, err = s.GetList(ctx, types.EntityRoom, "general", "blacklist")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, values)
}

func TestMemoryStore_WhitelistOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddRoom(ctx, "general", "alice", false))

	mode, err := s.WhitelistOnlyGet(ctx, types.EntityRoom, "general")
	require.NoError(t, err)
	assert.False(t, mode)

	require.NoError(t, s.WhitelistOnlySet(ctx, types.EntityRoom, "general", true))
	mode, err = s.WhitelistOnlyGet(ctx, types.EntityRoom, "general")
	require.NoError(t, err)
	assert.True(t, mode)

	_, err = s.WhitelistOnlyGet(ctx, types.EntityRoom, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_Owner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddRoom(ctx, "general", "alice", false))

	owner, has, err := s.OwnerGet(ctx, "general")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, types.Username("alice"), owner)

	require.NoError(t, s.OwnerSet(ctx, "general", "bob"))
	owner, has, err = s.OwnerGet(ctx, "general")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, types.Username("bob"), owner)
}

func TestMemoryStore_Messages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddRoom(ctx, "general", "alice", false))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.MessageAdd(ctx, "general", types.Message{Author: "alice", TextMessage: "hi"}, 3))
	}

	msgs, err := s.MessagesGet(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	_, err = s.MessagesGet(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
