// Package chatroom implements the permission-checked room operations built
// on top of a types.StateStore: membership, the four access lists, the
// whitelist-only mode, and the list-change/eviction protocol. It has no
// knowledge of sockets or transports — callers (chatuser) are responsible
// for turning an evicted-username list into actual channel departures and
// notifications.
package chatroom

import (
	"context"
	"time"

	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/types"
	"github.com/latticechat/chatcore/internal/v1/validate"
)

// Manager creates, deletes and looks up rooms against a shared StateStore.
type Manager struct {
	store      types.StateStore
	maxHistory int
}

func NewManager(store types.StateStore, maxHistory int) *Manager {
	return &Manager{store: store, maxHistory: maxHistory}
}

func (m *Manager) Create(ctx context.Context, name types.RoomName, owner types.Username, whitelistOnly bool) error {
	if !validate.IsValidName(string(name)) {
		return errs.New(errs.KindInvalidName, string(name))
	}
	if err := m.store.AddRoom(ctx, name, owner, whitelistOnly); err != nil {
		if err == types.ErrAlreadyExists {
			return errs.New(errs.KindRoomExists, string(name))
		}
		return errs.Wrap(err, "chatroom.Create")
	}
	// The owner carries implicit admin rights without being listed in
	// adminlist; no further bookkeeping is required here.
	return nil
}

func (m *Manager) Delete(ctx context.Context, author types.Username, name types.RoomName) error {
	// A room that is already gone has nothing left to delete.
	if err := m.store.GetRoom(ctx, name); err != nil {
		if err == types.ErrNotFound {
			return nil
		}
		return errs.Wrap(err, "chatroom.Delete")
	}
	room := m.Room(name)
	if err := room.CheckIsOwner(ctx, author); err != nil {
		return err
	}
	if err := m.store.RemoveRoom(ctx, name); err != nil {
		if err == types.ErrNotFound {
			return nil
		}
		return errs.Wrap(err, "chatroom.Delete")
	}
	return nil
}

func (m *Manager) Exists(ctx context.Context, name types.RoomName) bool {
	return m.store.GetRoom(ctx, name) == nil
}

func (m *Manager) List(ctx context.Context) ([]types.RoomName, error) {
	names, err := m.store.ListRooms(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "chatroom.List")
	}
	return names, nil
}

// Room is a handle bound to one room name; it carries no state of its own,
// so constructing one is free and callers may discard it after use.
type Room struct {
	store      types.StateStore
	name       types.RoomName
	maxHistory int
}

func (m *Manager) Room(name types.RoomName) *Room {
	return &Room{store: m.store, name: name, maxHistory: m.maxHistory}
}

func (r *Room) Name() types.RoomName { return r.name }

func (r *Room) owner(ctx context.Context) (types.Username, error) {
	owner, _, err := r.store.OwnerGet(ctx, r.name)
	if err != nil {
		return "", errs.Wrap(err, "chatroom.owner")
	}
	return owner, nil
}

func (r *Room) isAdmin(ctx context.Context, user types.Username) (bool, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return false, err
	}
	if user == owner {
		return true, nil
	}
	inAdmin, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListAdminlist, string(user))
	if err != nil {
		return false, errs.Wrap(err, "chatroom.isAdmin")
	}
	return inAdmin, nil
}

func (r *Room) isJoined(ctx context.Context, user types.Username) (bool, error) {
	ok, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListUserlist, string(user))
	if err != nil {
		return false, errs.Wrap(err, "chatroom.isJoined")
	}
	return ok, nil
}

func (r *Room) CheckIsOwner(ctx context.Context, user types.Username) error {
	owner, err := r.owner(ctx)
	if err != nil {
		return err
	}
	if user != owner {
		return errs.New(errs.KindNotAllowed)
	}
	return nil
}

// Join adds user to the userlist, enforcing the blacklist and
// whitelist-only checks. The caller is expected to join the transport
// channel separately once this returns nil. It reports whether the call
// actually transitioned user from not-joined to joined, so a caller can
// tell a repeat join (idempotent, already a member) from a first join —
// Join itself does not error on a repeat.
func (r *Room) Join(ctx context.Context, user types.Username) (bool, error) {
	alreadyJoined, err := r.isJoined(ctx, user)
	if err != nil {
		return false, err
	}
	if alreadyJoined {
		return false, nil
	}
	blacklisted, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListBlacklist, string(user))
	if err != nil {
		return false, errs.Wrap(err, "chatroom.Join")
	}
	if blacklisted {
		return false, errs.New(errs.KindNotAllowed)
	}
	whitelistOnly, err := r.store.WhitelistOnlyGet(ctx, types.EntityRoom, string(r.name))
	if err != nil {
		return false, errs.Wrap(err, "chatroom.Join")
	}
	if whitelistOnly {
		admin, err := r.isAdmin(ctx, user)
		if err != nil {
			return false, err
		}
		if !admin {
			whitelisted, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListWhitelist, string(user))
			if err != nil {
				return false, errs.Wrap(err, "chatroom.Join")
			}
			if !whitelisted {
				return false, errs.New(errs.KindNotAllowed)
			}
		}
	}
	if err := r.store.AddToList(ctx, types.EntityRoom, string(r.name), types.ListUserlist, []string{string(user)}); err != nil {
		return false, errs.Wrap(err, "chatroom.Join")
	}
	return true, nil
}

// Leave removes user from the userlist and reports whether user was
// actually a member beforehand, mirroring Join's transition report so a
// repeat leave from an already-departed socket does not re-trigger the
// leave notification.
func (r *Room) Leave(ctx context.Context, user types.Username) (bool, error) {
	wasJoined, err := r.isJoined(ctx, user)
	if err != nil {
		return false, err
	}
	if !wasJoined {
		return false, nil
	}
	if err := r.store.RemoveFromList(ctx, types.EntityRoom, string(r.name), types.ListUserlist, []string{string(user)}); err != nil {
		return false, errs.Wrap(err, "chatroom.Leave")
	}
	return true, nil
}

func (r *Room) Message(ctx context.Context, author types.Username, text string) (types.Message, error) {
	joined, err := r.isJoined(ctx, author)
	if err != nil {
		return types.Message{}, err
	}
	if !joined {
		return types.Message{}, errs.New(errs.KindNotJoined)
	}
	msg := types.Message{
		TextMessage: text,
		Timestamp:   time.Now().UnixMilli(),
		Author:      string(author),
	}
	if err := r.store.MessageAdd(ctx, r.name, msg, r.maxHistory); err != nil {
		return types.Message{}, errs.Wrap(err, "chatroom.Message")
	}
	return msg, nil
}

func (r *Room) History(ctx context.Context) ([]types.Message, error) {
	msgs, err := r.store.MessagesGet(ctx, r.name)
	if err != nil {
		return nil, errs.Wrap(err, "chatroom.History")
	}
	return msgs, nil
}

func (r *Room) GetList(ctx context.Context, author types.Username, listName string) ([]string, error) {
	if !validate.AdmittedRoomListNames[listName] {
		return nil, errs.New(errs.KindNoList, listName)
	}
	joined, err := r.isJoined(ctx, author)
	if err != nil {
		return nil, err
	}
	if !joined {
		return nil, errs.New(errs.KindNotJoined)
	}
	values, err := r.store.GetList(ctx, types.EntityRoom, string(r.name), listName)
	if err != nil {
		return nil, errs.Wrap(err, "chatroom.GetList")
	}
	return values, nil
}

func (r *Room) GetMode(ctx context.Context) (bool, error) {
	v, err := r.store.WhitelistOnlyGet(ctx, types.EntityRoom, string(r.name))
	if err != nil {
		return false, errs.Wrap(err, "chatroom.GetMode")
	}
	return v, nil
}

// checkListMutation implements steps 1-5 of the list-change protocol for a
// single value v, given listName, author, owner and whether author is an
// admin. Step 6 (membership check) is applied by the caller since it
// differs between add and remove.
func (r *Room) checkListMutation(ctx context.Context, author, owner types.Username, authorIsAdmin bool, listName, v string) error {
	if listName == types.ListUserlist {
		return errs.New(errs.KindNotAllowed)
	}
	if author == owner {
		return nil
	}
	if types.Username(v) == owner {
		return errs.New(errs.KindNotAllowed)
	}
	inAdminlist, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListAdminlist, v)
	if err != nil {
		return errs.Wrap(err, "chatroom.checkListMutation")
	}
	if inAdminlist {
		return errs.New(errs.KindNotAllowed)
	}
	if !authorIsAdmin {
		return errs.New(errs.KindNotAllowed)
	}
	return nil
}

// AddToList applies the list-change protocol for an add batch, in request
// order, aborting at the first failure; values already applied stay
// applied, so partial progress is observable on error.
// It returns the usernames evicted from the userlist as a result.
func (r *Room) AddToList(ctx context.Context, author types.Username, listName string, values []string) ([]types.Username, error) {
	if !validate.AdmittedRoomListNames[listName] {
		return nil, errs.New(errs.KindNoList, listName)
	}
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	authorIsAdmin, err := r.isAdmin(ctx, author)
	if err != nil {
		return nil, err
	}

	var evicted []types.Username
	for _, v := range values {
		if err := r.checkListMutation(ctx, author, owner, authorIsAdmin, listName, v); err != nil {
			return evicted, err
		}
		already, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), listName, v)
		if err != nil {
			return evicted, errs.Wrap(err, "chatroom.AddToList")
		}
		if already {
			return evicted, errs.New(errs.KindNameInList, v)
		}
		if err := r.store.AddToList(ctx, types.EntityRoom, string(r.name), listName, []string{v}); err != nil {
			return evicted, errs.Wrap(err, "chatroom.AddToList")
		}
		if listName == types.ListBlacklist {
			lost, err := r.evictIfLostAccess(ctx, types.Username(v), owner)
			if err != nil {
				return evicted, err
			}
			if lost {
				evicted = append(evicted, types.Username(v))
			}
		}
	}
	return evicted, nil
}

// RemoveFromList mirrors AddToList for a removal batch.
func (r *Room) RemoveFromList(ctx context.Context, author types.Username, listName string, values []string) ([]types.Username, error) {
	if !validate.AdmittedRoomListNames[listName] {
		return nil, errs.New(errs.KindNoList, listName)
	}
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	authorIsAdmin, err := r.isAdmin(ctx, author)
	if err != nil {
		return nil, err
	}
	whitelistOnly, err := r.store.WhitelistOnlyGet(ctx, types.EntityRoom, string(r.name))
	if err != nil {
		return nil, errs.Wrap(err, "chatroom.RemoveFromList")
	}

	var evicted []types.Username
	for _, v := range values {
		if err := r.checkListMutation(ctx, author, owner, authorIsAdmin, listName, v); err != nil {
			return evicted, err
		}
		present, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), listName, v)
		if err != nil {
			return evicted, errs.Wrap(err, "chatroom.RemoveFromList")
		}
		if !present {
			return evicted, errs.New(errs.KindNoNameInList, v)
		}
		if err := r.store.RemoveFromList(ctx, types.EntityRoom, string(r.name), listName, []string{v}); err != nil {
			return evicted, errs.Wrap(err, "chatroom.RemoveFromList")
		}
		if listName == types.ListWhitelist && whitelistOnly {
			lost, err := r.evictIfLostAccess(ctx, types.Username(v), owner)
			if err != nil {
				return evicted, err
			}
			if lost {
				evicted = append(evicted, types.Username(v))
			}
		}
	}
	return evicted, nil
}

// evictIfLostAccess checks whether v is currently joined, not an admin and
// not the owner, and if so removes it from the userlist and reports it as
// evicted. It is always evaluated against the post-mutation state.
func (r *Room) evictIfLostAccess(ctx context.Context, v, owner types.Username) (bool, error) {
	if v == owner {
		return false, nil
	}
	joined, err := r.isJoined(ctx, v)
	if err != nil {
		return false, err
	}
	if !joined {
		return false, nil
	}
	admin, err := r.isAdmin(ctx, v)
	if err != nil {
		return false, err
	}
	if admin {
		return false, nil
	}
	if err := r.store.RemoveFromList(ctx, types.EntityRoom, string(r.name), types.ListUserlist, []string{string(v)}); err != nil {
		return false, errs.Wrap(err, "chatroom.evictIfLostAccess")
	}
	return true, nil
}

// ChangeMode requires author to be an admin. Transitioning to
// whitelist-only evicts every currently-joined non-admin, non-owner user
// who is not in the whitelist.
func (r *Room) ChangeMode(ctx context.Context, author types.Username, whitelistOnly bool) ([]types.Username, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	authorIsAdmin, err := r.isAdmin(ctx, author)
	if err != nil {
		return nil, err
	}
	if !authorIsAdmin {
		return nil, errs.New(errs.KindNotAllowed)
	}
	if err := r.store.WhitelistOnlySet(ctx, types.EntityRoom, string(r.name), whitelistOnly); err != nil {
		return nil, errs.Wrap(err, "chatroom.ChangeMode")
	}
	if !whitelistOnly {
		return nil, nil
	}

	members, err := r.store.GetList(ctx, types.EntityRoom, string(r.name), types.ListUserlist)
	if err != nil {
		return nil, errs.Wrap(err, "chatroom.ChangeMode")
	}
	var evicted []types.Username
	for _, m := range members {
		user := types.Username(m)
		if user == owner {
			continue
		}
		admin, err := r.isAdmin(ctx, user)
		if err != nil {
			return evicted, err
		}
		if admin {
			continue
		}
		whitelisted, err := r.store.HasInList(ctx, types.EntityRoom, string(r.name), types.ListWhitelist, m)
		if err != nil {
			return evicted, errs.Wrap(err, "chatroom.ChangeMode")
		}
		if whitelisted {
			continue
		}
		if err := r.store.RemoveFromList(ctx, types.EntityRoom, string(r.name), types.ListUserlist, []string{m}); err != nil {
			return evicted, errs.Wrap(err, "chatroom.ChangeMode")
		}
		evicted = append(evicted, user)
	}
	return evicted, nil
}
