package chatuser

import (
	"context"
	"time"

	"github.com/latticechat/chatcore/internal/v1/directmsg"
	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/types"
)

// The 19 command names making up the user-facing surface.
const (
	CmdDirectAddToList        = "directAddToList"
	CmdDirectRemoveFromList   = "directRemoveFromList"
	CmdDirectGetAccessList    = "directGetAccessList"
	CmdDirectGetWhitelistMode = "directGetWhitelistMode"
	CmdDirectSetWhitelistMode = "directSetWhitelistMode"
	CmdDirectMessage          = "directMessage"
	CmdRoomCreate             = "roomCreate"
	CmdRoomDelete             = "roomDelete"
	CmdRoomJoin               = "roomJoin"
	CmdRoomLeave              = "roomLeave"
	CmdRoomMessage            = "roomMessage"
	CmdRoomAddToList          = "roomAddToList"
	CmdRoomRemoveFromList     = "roomRemoveFromList"
	CmdRoomGetAccessList      = "roomGetAccessList"
	CmdRoomGetWhitelistMode   = "roomGetWhitelistMode"
	CmdRoomSetWhitelistMode   = "roomSetWhitelistMode"
	CmdRoomHistory            = "roomHistory"
	CmdListRooms              = "listRooms"
	CmdDisconnect             = "disconnect"
)

func (r *Registry) registerCommands() {
	r.commands = map[string]command{
		CmdDirectAddToList:        {decodeListNameAndUsernames, r.execDirectAddToList},
		CmdDirectRemoveFromList:   {decodeListNameAndUsernames, r.execDirectRemoveFromList},
		CmdDirectGetAccessList:    {decodeListName, r.execDirectGetAccessList},
		CmdDirectGetWhitelistMode: {decodeNoArgs, r.execDirectGetWhitelistMode},
		CmdDirectSetWhitelistMode: {decodeMode, r.execDirectSetWhitelistMode},
		CmdDirectMessage:          {decodeDirectMessage, r.execDirectMessage},
		CmdRoomCreate:             {decodeRoomCreate, r.execRoomCreate},
		CmdRoomDelete:             {decodeRoomName, r.execRoomDelete},
		CmdRoomJoin:               {decodeRoomName, r.execRoomJoin},
		CmdRoomLeave:              {decodeRoomName, r.execRoomLeave},
		CmdRoomMessage:            {decodeRoomMessage, r.execRoomMessage},
		CmdRoomAddToList:          {decodeRoomList, r.execRoomAddToList},
		CmdRoomRemoveFromList:     {decodeRoomList, r.execRoomRemoveFromList},
		CmdRoomGetAccessList:      {decodeRoomAndListName, r.execRoomGetAccessList},
		CmdRoomGetWhitelistMode:   {decodeRoomName, r.execRoomGetWhitelistMode},
		CmdRoomSetWhitelistMode:   {decodeRoomAndMode, r.execRoomSetWhitelistMode},
		CmdRoomHistory:            {decodeRoomName, r.execRoomHistory},
		CmdListRooms:              {decodeNoArgs, r.execListRooms},
		CmdDisconnect:             {decodeReason, r.execDisconnect},
	}
}

// --- decoders ---

func decodeNoArgs(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 0); err != nil {
		return nil, err
	}
	return []any{}, nil
}

func decodeListName(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	listName, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	return []any{listName}, nil
}

func decodeListNameAndUsernames(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	listName, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	usernames, err := decodeStrings(args[1])
	if err != nil {
		return nil, err
	}
	return []any{listName, usernames}, nil
}

func decodeMode(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	mode, err := decodeBool(args[0])
	if err != nil {
		return nil, err
	}
	return []any{mode}, nil
}

func decodeDirectMessage(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	toUser, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	msg, err := decodeMsg(args[1])
	if err != nil {
		return nil, err
	}
	return []any{toUser, msg}, nil
}

func decodeRoomName(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	return []any{roomName}, nil
}

func decodeRoomCreate(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	whitelistOnly, err := decodeBool(args[1])
	if err != nil {
		return nil, err
	}
	return []any{roomName, whitelistOnly}, nil
}

func decodeRoomMessage(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	msg, err := decodeMsg(args[1])
	if err != nil {
		return nil, err
	}
	return []any{roomName, msg}, nil
}

func decodeRoomList(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	listName, err := decodeString(args[1])
	if err != nil {
		return nil, err
	}
	usernames, err := decodeStrings(args[2])
	if err != nil {
		return nil, err
	}
	return []any{roomName, listName, usernames}, nil
}

func decodeRoomAndListName(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	listName, err := decodeString(args[1])
	if err != nil {
		return nil, err
	}
	return []any{roomName, listName}, nil
}

func decodeRoomAndMode(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 2); err != nil {
		return nil, err
	}
	roomName, err := decodeName(args[0])
	if err != nil {
		return nil, err
	}
	mode, err := decodeBool(args[1])
	if err != nil {
		return nil, err
	}
	return []any{roomName, mode}, nil
}

func decodeReason(args []types.RawArg) ([]any, *errs.Error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	reason, err := decodeString(args[0])
	if err != nil {
		return nil, err
	}
	return []any{reason}, nil
}

// --- direct-messaging executors ---

func (r *Registry) execDirectAddToList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	listName, usernames := args[0].(string), args[1].([]string)
	dm := directmsg.New(u.deps.Store, u.name)
	return asErr(dm.AddToList(ctx, u.name, listName, usernames)), nil
}

func (r *Registry) execDirectRemoveFromList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	listName, usernames := args[0].(string), args[1].([]string)
	dm := directmsg.New(u.deps.Store, u.name)
	return asErr(dm.RemoveFromList(ctx, u.name, listName, usernames)), nil
}

func (r *Registry) execDirectGetAccessList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	dm := directmsg.New(u.deps.Store, u.name)
	values, err := dm.GetList(ctx, u.name, args[0].(string))
	return asErr(err), values
}

func (r *Registry) execDirectGetWhitelistMode(ctx context.Context, u *User, _ []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	dm := directmsg.New(u.deps.Store, u.name)
	mode, err := dm.GetMode(ctx)
	return asErr(err), mode
}

func (r *Registry) execDirectSetWhitelistMode(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	dm := directmsg.New(u.deps.Store, u.name)
	return asErr(dm.SetMode(ctx, u.name, args[0].(bool))), nil
}

func (r *Registry) execDirectMessage(ctx context.Context, u *User, args []any, origin types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableDirectMessages {
		return errs.New(errs.KindNotAllowed), nil
	}
	toUser := types.Username(args[0].(string))
	input := args[1].(msgInput)

	if err := u.deps.Store.GetOnlineUser(ctx, toUser); err != nil {
		if err == types.ErrNotFound {
			return errs.New(errs.KindNoUserOnline), nil
		}
		return errs.Wrap(err, "chatuser.directMessage"), nil
	}
	dm := directmsg.New(u.deps.Store, toUser)
	if err := dm.CheckAccess(ctx, u.name); err != nil {
		return asErr(err), nil
	}

	msg := types.Message{
		TextMessage: input.TextMessage,
		Timestamp:   time.Now().UnixMilli(),
		Author:      string(u.name),
	}
	u.deps.Transport.EmitToChannel(types.UserChannel(toUser), "directMessage", string(u.name), msg)
	u.deps.Transport.EmitToChannelExceptSender(origin, types.UserChannel(u.name), "directMessageEcho", string(toUser), msg)
	return nil, msg
}

// --- room executors ---

func (r *Registry) requireRoomExists(ctx context.Context, roomName types.RoomName) *errs.Error {
	if !r.deps.Rooms.Exists(ctx, roomName) {
		return errs.New(errs.KindNotAllowed)
	}
	return nil
}

func (r *Registry) execRoomCreate(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableRoomsManagement {
		return errs.New(errs.KindNotAllowed), nil
	}
	roomName, whitelistOnly := types.RoomName(args[0].(string)), args[1].(bool)
	return asErr(r.deps.Rooms.Create(ctx, roomName, u.name, whitelistOnly)), nil
}

func (r *Registry) execRoomDelete(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableRoomsManagement {
		return errs.New(errs.KindNotAllowed), nil
	}
	roomName := types.RoomName(args[0].(string))
	return asErr(r.deps.Rooms.Delete(ctx, u.name, roomName)), nil
}

func (r *Registry) execRoomJoin(ctx context.Context, u *User, args []any, origin types.SocketID) (*errs.Error, any) {
	roomName := types.RoomName(args[0].(string))
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	room := r.deps.Rooms.Room(roomName)
	joined, err := room.Join(ctx, u.name)
	if err != nil {
		return asErr(err), nil
	}
	_ = u.deps.Store.RoomAdd(ctx, u.name, roomName)
	_ = u.deps.Transport.JoinChannel(origin, types.RoomChannel(roomName))

	if joined && u.deps.Config.EnableUserlistUpdates {
		u.deps.Transport.EmitToChannelExceptSender(origin, types.RoomChannel(roomName), "roomUserJoined", roomName, u.name)
	}
	u.deps.Transport.EmitToChannelExceptSender(origin, types.UserChannel(u.name), "roomJoinedEcho", roomName)
	return nil, nil
}

func (r *Registry) execRoomLeave(ctx context.Context, u *User, args []any, origin types.SocketID) (*errs.Error, any) {
	roomName := types.RoomName(args[0].(string))
	room := r.deps.Rooms.Room(roomName)
	left, err := room.Leave(ctx, u.name)
	if err != nil {
		return asErr(err), nil
	}
	_ = u.deps.Store.RoomRemove(ctx, u.name, roomName)
	_ = u.deps.Transport.LeaveChannel(origin, types.RoomChannel(roomName))

	if left && u.deps.Config.EnableUserlistUpdates {
		u.deps.Transport.EmitToChannelExceptSender(origin, types.RoomChannel(roomName), "roomUserLeft", roomName, u.name)
	}
	u.deps.Transport.EmitToChannelExceptSender(origin, types.UserChannel(u.name), "roomLeftEcho", roomName)
	return nil, nil
}

func (r *Registry) execRoomMessage(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	roomName := types.RoomName(args[0].(string))
	input := args[1].(msgInput)
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	room := r.deps.Rooms.Room(roomName)
	msg, err := room.Message(ctx, u.name, input.TextMessage)
	if err != nil {
		return asErr(err), nil
	}
	u.deps.Transport.EmitToChannel(types.RoomChannel(roomName), "roomMessage", roomName, msg)
	return nil, msg
}

func (r *Registry) execRoomAddToList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableRoomsManagement {
		return errs.New(errs.KindNotAllowed), nil
	}
	roomName, listName, usernames := types.RoomName(args[0].(string)), args[1].(string), args[2].([]string)
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	room := r.deps.Rooms.Room(roomName)
	evicted, err := room.AddToList(ctx, u.name, listName, usernames)
	u.evictFromRoom(ctx, roomName, evicted)
	return asErr(err), nil
}

func (r *Registry) execRoomRemoveFromList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableRoomsManagement {
		return errs.New(errs.KindNotAllowed), nil
	}
	roomName, listName, usernames := types.RoomName(args[0].(string)), args[1].(string), args[2].([]string)
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	room := r.deps.Rooms.Room(roomName)
	evicted, err := room.RemoveFromList(ctx, u.name, listName, usernames)
	u.evictFromRoom(ctx, roomName, evicted)
	return asErr(err), nil
}

func (r *Registry) execRoomGetAccessList(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	roomName, listName := types.RoomName(args[0].(string)), args[1].(string)
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	values, err := r.deps.Rooms.Room(roomName).GetList(ctx, u.name, listName)
	return asErr(err), values
}

func (r *Registry) execRoomGetWhitelistMode(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	roomName := types.RoomName(args[0].(string))
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	mode, err := r.deps.Rooms.Room(roomName).GetMode(ctx)
	return asErr(err), mode
}

func (r *Registry) execRoomSetWhitelistMode(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	if !u.deps.Config.EnableRoomsManagement {
		return errs.New(errs.KindNotAllowed), nil
	}
	roomName, mode := types.RoomName(args[0].(string)), args[1].(bool)
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	room := r.deps.Rooms.Room(roomName)
	evicted, err := room.ChangeMode(ctx, u.name, mode)
	u.evictFromRoom(ctx, roomName, evicted)
	return asErr(err), nil
}

func (r *Registry) execRoomHistory(ctx context.Context, u *User, args []any, _ types.SocketID) (*errs.Error, any) {
	roomName := types.RoomName(args[0].(string))
	if derr := r.requireRoomExists(ctx, roomName); derr != nil {
		return derr, nil
	}
	msgs, err := r.deps.Rooms.Room(roomName).History(ctx)
	return asErr(err), msgs
}

func (r *Registry) execListRooms(ctx context.Context, u *User, _ []any, _ types.SocketID) (*errs.Error, any) {
	rooms, err := r.deps.Rooms.List(ctx)
	return asErr(err), rooms
}

// execDisconnect implements the corrected leave-all-on-empty semantics: a
// user only leaves every joined room and logs out once removing this
// socket leaves none of their sockets registered. Removing one socket out
// of several is a no-op beyond the presence bookkeeping.
func (r *Registry) execDisconnect(ctx context.Context, u *User, _ []any, origin types.SocketID) (*errs.Error, any) {
	socketKey := types.SocketKey{Instance: u.deps.Transport.InstanceID(), Socket: origin}
	_ = u.deps.Store.SocketRemove(ctx, u.name, socketKey)

	remaining, err := u.deps.Store.SocketsGetAll(ctx, u.name)
	if err != nil && err != types.ErrNotFound {
		return errs.Wrap(err, "chatuser.disconnect"), nil
	}
	if len(remaining) > 0 {
		return nil, nil
	}

	rooms, err := u.deps.Store.RoomsGetAll(ctx, u.name)
	if err != nil && err != types.ErrNotFound {
		return errs.Wrap(err, "chatuser.disconnect"), nil
	}
	for _, roomName := range rooms {
		room := r.deps.Rooms.Room(roomName)
		_, _ = room.Leave(ctx, u.name)
		if u.deps.Config.EnableUserlistUpdates {
			u.deps.Transport.EmitToChannel(types.RoomChannel(roomName), "roomUserLeft", roomName, u.name)
		}
	}
	_ = u.deps.Store.LogoutUser(ctx, u.name)
	return nil, nil
}
