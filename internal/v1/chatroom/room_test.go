package chatroom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/statestore"
	"github.com/latticechat/chatcore/internal/v1/types"
)

func kindOf(t *testing.T, err error) errs.Kind {
	t.Helper()
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	return e.Kind
}

func newManager() *Manager {
	return NewManager(statestore.NewMemoryStore(), 10)
}

func mustJoin(t *testing.T, room *Room, ctx context.Context, user types.Username) bool {
	t.Helper()
	joined, err := room.Join(ctx, user)
	require.NoError(t, err)
	return joined
}

func joinErr(ctx context.Context, room *Room, user types.Username) error {
	_, err := room.Join(ctx, user)
	return err
}

func TestCreateDelete(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	require.NoError(t, m.Create(ctx, "general", "alice", false))
	err := m.Create(ctx, "general", "bob", false)
	assert.Equal(t, errs.KindRoomExists, kindOf(t, err))

	room := m.Room("general")
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, room.CheckIsOwner(ctx, "bob")))
	require.NoError(t, room.CheckIsOwner(ctx, "alice"))

	assert.Equal(t, errs.KindNotAllowed, kindOf(t, m.Delete(ctx, "bob", "general")))
	require.NoError(t, m.Delete(ctx, "alice", "general"))
	// deleting twice is not an error
	require.NoError(t, m.Delete(ctx, "alice", "general"))
}

func TestJoinBlacklistAndWhitelistOnly(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")

	mustJoin(t, room, ctx, "alice")
	mustJoin(t, room, ctx, "bob")

	_, err := room.AddToList(ctx, "alice", types.ListBlacklist, []string{"carol"})
	require.NoError(t, err)
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, joinErr(ctx, room, "carol")))

	evicted, err := room.ChangeMode(ctx, "alice", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Username{"bob"}, evicted)

	assert.Equal(t, errs.KindNotAllowed, kindOf(t, joinErr(ctx, room, "dave")))

	_, err = room.AddToList(ctx, "alice", types.ListWhitelist, []string{"dave"})
	require.NoError(t, err)
	mustJoin(t, room, ctx, "dave")
}

func TestJoinReportsTransitionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")

	assert.True(t, mustJoin(t, room, ctx, "bob"))
	assert.False(t, mustJoin(t, room, ctx, "bob"))
	assert.False(t, mustJoin(t, room, ctx, "bob"))
}

func TestLeaveReportsTransitionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")
	mustJoin(t, room, ctx, "bob")

	left, err := room.Leave(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, left)

	left, err = room.Leave(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, left)

	left, err = room.Leave(ctx, "never-joined")
	require.NoError(t, err)
	assert.False(t, left)
}

func TestRemoveFromWhitelistEvictsWhenWhitelistOnly(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")
	mustJoin(t, room, ctx, "alice")

	_, err := room.AddToList(ctx, "alice", types.ListWhitelist, []string{"bob"})
	require.NoError(t, err)
	_, err = room.ChangeMode(ctx, "alice", true)
	require.NoError(t, err)
	mustJoin(t, room, ctx, "bob")

	evicted, err := room.RemoveFromList(ctx, "alice", types.ListWhitelist, []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, []types.Username{"bob"}, evicted)

	joined, err := room.isJoined(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestAddToListProtectsOwnerAndAdmins(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")
	mustJoin(t, room, ctx, "alice")
	mustJoin(t, room, ctx, "bob")
	mustJoin(t, room, ctx, "carol")

	// non-admin cannot mutate any list
	_, err := room.AddToList(ctx, "bob", types.ListBlacklist, []string{"carol"})
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))

	// promote bob to admin
	_, err = room.AddToList(ctx, "alice", types.ListAdminlist, []string{"bob"})
	require.NoError(t, err)

	// bob, now admin, cannot blacklist the owner
	_, err = room.AddToList(ctx, "bob", types.ListBlacklist, []string{"alice"})
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))

	// bob cannot blacklist another admin
	_, err = room.AddToList(ctx, "alice", types.ListAdminlist, []string{"carol"})
	require.NoError(t, err)
	_, err = room.AddToList(ctx, "bob", types.ListBlacklist, []string{"carol"})
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))

	// userlist itself is never a mutable list via AddToList
	_, err = room.AddToList(ctx, "alice", types.ListUserlist, []string{"dave"})
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))
}

func TestAddToListRejectsDuplicateAndMissingRemoval(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")

	_, err := room.AddToList(ctx, "alice", types.ListWhitelist, []string{"bob"})
	require.NoError(t, err)
	_, err = room.AddToList(ctx, "alice", types.ListWhitelist, []string{"bob"})
	assert.Equal(t, errs.KindNameInList, kindOf(t, err))

	_, err = room.RemoveFromList(ctx, "alice", types.ListWhitelist, []string{"carol"})
	assert.Equal(t, errs.KindNoNameInList, kindOf(t, err))
}

func TestMessageRequiresMembership(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")

	_, err := room.Message(ctx, "bob", "hi")
	assert.Equal(t, errs.KindNotJoined, kindOf(t, err))

	mustJoin(t, room, ctx, "alice")
	msg, err := room.Message(ctx, "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.TextMessage)

	history, err := room.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetListRequiresMembership(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")

	_, err := room.GetList(ctx, "bob", types.ListUserlist)
	assert.Equal(t, errs.KindNotJoined, kindOf(t, err))

	_, err = room.GetList(ctx, "bob", "bogus")
	assert.Equal(t, errs.KindNoList, kindOf(t, err))

	mustJoin(t, room, ctx, "alice")
	values, err := room.GetList(ctx, "alice", types.ListUserlist)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, values)
}

func TestListOperationName(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	require.NoError(t, m.Create(ctx, "general", "alice", false))
	room := m.Room("general")
	assert.Equal(t, types.RoomName("general"), room.Name())

	mode, err := room.GetMode(ctx)
	require.NoError(t, err)
	assert.False(t, mode)
}
