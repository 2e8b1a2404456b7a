// Package types defines the shared domain value types and the interfaces
// that let the higher layers (chatroom, directmsg, chatuser, chatservice)
// depend on StateStore, Transport and ClusterBus abstractly. Concrete
// implementations live in the statestore, transport and bus packages.
package types

import (
	"context"
	"errors"
)

// --- Identifiers ---

type Username string
type RoomName string
type InstanceID string
type SocketID string

// SocketKey globally identifies a socket: unique once scoped by instance.
type SocketKey struct {
	Instance InstanceID
	Socket   SocketID
}

// Channel is a Transport fan-out group: one per room, one per user (echo).
type Channel string

func RoomChannel(name RoomName) Channel { return Channel("room:" + string(name)) }
func UserChannel(name Username) Channel { return Channel("user:" + string(name)) }

// EntityKind scopes a list/mode operation to a room or a user.
type EntityKind string

const (
	EntityRoom EntityKind = "room"
	EntityUser EntityKind = "user"
)

// Room list names.
const (
	ListUserlist  = "userlist"
	ListBlacklist = "blacklist"
	ListWhitelist = "whitelist"
	ListAdminlist = "adminlist"
)

// Direct-messaging list names (scoped to EntityUser).
const (
	ListDirectBlacklist = "directBlacklist"
	ListDirectWhitelist = "directWhitelist"
)

// Message is the immutable chat message value, both for room history and
// for direct messages.
type Message struct {
	TextMessage string `json:"textMessage"`
	Timestamp   int64  `json:"timestamp"`
	Author      string `json:"author"`
}

// --- StateStore errors ---

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// StateStore is the backing store for rooms, users, online registry and
// socket registry. Every method here is atomic at the granularity of a
// single call; composite behavior (eviction, multi-list batches) is built
// on top by chatroom/chatuser and is not itself transactional.
type StateStore interface {
	// Rooms
	GetRoom(ctx context.Context, name RoomName) error // nil, or ErrNotFound
	AddRoom(ctx context.Context, name RoomName, owner Username, whitelistOnly bool) error
	RemoveRoom(ctx context.Context, name RoomName) error
	ListRooms(ctx context.Context) ([]RoomName, error)

	// Users
	LoginUser(ctx context.Context, name Username, socket SocketKey) error
	LogoutUser(ctx context.Context, name Username) error
	GetOnlineUser(ctx context.Context, name Username) error // nil, or ErrNotFound

	// Generic per-entity list operations.
	HasInList(ctx context.Context, kind EntityKind, entity, list, value string) (bool, error)
	AddToList(ctx context.Context, kind EntityKind, entity, list string, values []string) error
	RemoveFromList(ctx context.Context, kind EntityKind, entity, list string, values []string) error
	GetList(ctx context.Context, kind EntityKind, entity, list string) ([]string, error)

	// Mode / ownership
	WhitelistOnlyGet(ctx context.Context, kind EntityKind, entity string) (bool, error)
	WhitelistOnlySet(ctx context.Context, kind EntityKind, entity string, v bool) error
	OwnerGet(ctx context.Context, room RoomName) (Username, bool, error)
	OwnerSet(ctx context.Context, room RoomName, owner Username) error

	// Presence
	SocketAdd(ctx context.Context, user Username, socket SocketKey) error
	SocketRemove(ctx context.Context, user Username, socket SocketKey) error
	SocketsGetAll(ctx context.Context, user Username) ([]SocketKey, error)
	RoomAdd(ctx context.Context, user Username, room RoomName) error
	RoomRemove(ctx context.Context, user Username, room RoomName) error
	RoomsGetAll(ctx context.Context, user Username) ([]RoomName, error)

	// Bounded history: messageAdd pushes and evicts the oldest past max.
	MessageAdd(ctx context.Context, room RoomName, msg Message, max int) error
	MessagesGet(ctx context.Context, room RoomName) ([]Message, error)
}

// --- Transport ---

// NewSocket describes a freshly accepted connection, handed to the handler
// registered via Transport.OnConnect.
type NewSocket struct {
	ID    SocketID
	Query map[string][]string
}

// Transport is the socket accept / per-socket emit / channel join-leave /
// broadcast contract the core consumes. instanceId is a stable identifier
// for the running process; socketId is globally unique when scoped by it.
type Transport interface {
	InstanceID() InstanceID

	OnConnect(handler func(ctx context.Context, s NewSocket))
	OnDisconnect(handler func(ctx context.Context, socket SocketID))
	OnCommand(handler func(ctx context.Context, socket SocketID, event string, args []RawArg, ackID string))

	EmitToSocket(socket SocketID, event string, args ...any)
	EmitToChannel(channel Channel, event string, args ...any)
	EmitToChannelExceptSender(sender SocketID, channel Channel, event string, args ...any)

	JoinChannel(socket SocketID, channel Channel) error // ErrInvalidSocket
	LeaveChannel(socket SocketID, channel Channel) error

	Disconnect(socket SocketID)

	// Ack delivers the (error, data) result of a command back to the
	// originating socket, keyed by the ackID supplied in OnCommand.
	Ack(socket SocketID, ackID string, err any, data any)

	// Broadcast is the reserved-channel primitive ClusterBus builds on.
	Broadcast(ctx context.Context, event string, payload []byte) error
	OnBroadcast(handler func(event string, payload []byte))
}

var ErrInvalidSocket = errors.New("invalid socket")

// RawArg is one positional command argument, still JSON-encoded so each
// command's decoder can apply its own arity/type checks.
type RawArg = []byte

// --- ClusterBus ---

// ClusterBus is the pub/sub layer over Transport.Broadcast used to
// instruct other instances to disconnect a user's sockets or remove a
// socket from a room channel.
type ClusterBus interface {
	// RequestRoomLeaveSocket instructs whichever instance owns socket to
	// call Transport.LeaveChannel, and waits for the socketRoomLeft
	// acknowledgement (or busAckTimeout).
	RequestRoomLeaveSocket(ctx context.Context, socket SocketKey, room RoomName) error

	// RequestDisconnectUserSockets instructs every instance holding a
	// socket for user to disconnect those sockets locally. Fire-and-forget:
	// no acknowledgement is required for this event.
	RequestDisconnectUserSockets(ctx context.Context, user Username) error

	// OnRoomLeaveSocket/OnDisconnectUserSockets register the local handlers
	// invoked when this instance receives the corresponding event.
	OnRoomLeaveSocket(handler func(ctx context.Context, socket SocketKey, room RoomName))
	OnDisconnectUserSockets(handler func(ctx context.Context, user Username))

	Close() error
}
