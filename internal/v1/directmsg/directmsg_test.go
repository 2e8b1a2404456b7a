package directmsg

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

func newStoreWithUsers(t *testing.T, users ...types.Username) types.StateStore {
	t.Helper()
	store := statestore.NewMemoryStore()
	ctx := context.Background()
	for _, u := range users {
		require.NoError(t, store.LoginUser(ctx, u, types.SocketKey{Instance: "i", Socket: types.SocketID(u)}))
	}
	return store
}

func TestRequireSelf(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	err := dm.AddToList(ctx, "bob", "blacklist", []string{"carol"})
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))
}

func TestAddRemoveGetList(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	require.NoError(t, dm.AddToList(ctx, "alice", "blacklist", []string{"bob"}))
	err := dm.AddToList(ctx, "alice", "blacklist", []string{"bob"})
	assert.Equal(t, errs.KindNameInList, kindOf(t, err))

	values, err := dm.GetList(ctx, "alice", "blacklist")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, values)

	require.NoError(t, dm.RemoveFromList(ctx, "alice", "blacklist", []string{"bob"}))
	err = dm.RemoveFromList(ctx, "alice", "blacklist", []string{"bob"})
	assert.Equal(t, errs.KindNoNameInList, kindOf(t, err))
}

func TestAddToListRejectsUnknownListName(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	err := dm.AddToList(ctx, "alice", "adminlist", []string{"bob"})
	assert.Equal(t, errs.KindNoList, kindOf(t, err))
}

func TestCheckAccessBlacklistHidesAsNoUserOnline(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	require.NoError(t, dm.AddToList(ctx, "alice", "blacklist", []string{"bob"}))

	err := dm.CheckAccess(ctx, "bob")
	assert.Equal(t, errs.KindNoUserOnline, kindOf(t, err))
}

func TestCheckAccessWhitelistOnlyMode(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	require.NoError(t, dm.CheckAccess(ctx, "bob"))

	require.NoError(t, dm.SetMode(ctx, "alice", true))
	mode, err := dm.GetMode(ctx)
	require.NoError(t, err)
	assert.True(t, mode)

	err = dm.CheckAccess(ctx, "bob")
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))

	require.NoError(t, dm.AddToList(ctx, "alice", "whitelist", []string{"bob"}))
	require.NoError(t, dm.CheckAccess(ctx, "bob"))
}

func TestSetModeRequiresSelf(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithUsers(t, "alice")
	dm := New(store, "alice")

	err := dm.SetMode(ctx, "mallory", true)
	assert.Equal(t, errs.KindNotAllowed, kindOf(t, err))
}
