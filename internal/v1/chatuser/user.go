// Package chatuser binds one logged-in username to its StateStore-backed
// presence, its DirectMessaging handle and the room Manager, and exposes the
// 19-command dispatch surface (Registry) that chatservice wires to
// Transport.OnCommand. Every command handler is grounded in chatroom and
// directmsg; this package is where their results turn into transport
// channel joins, echoes and cross-instance eviction.
package chatuser

import (
	"github.com/latticechat/chatcore/internal/v1/chatroom"
	"github.com/latticechat/chatcore/internal/v1/types"
)

// Config carries the three feature gates from the service configuration.
type Config struct {
	EnableDirectMessages  bool
	EnableRoomsManagement bool
	EnableUserlistUpdates bool
}

// Deps are the collaborators every command handler needs. They are shared
// across all logged-in users; User itself is a thin, per-username handle.
type Deps struct {
	Store     types.StateStore
	Rooms     *chatroom.Manager
	Transport types.Transport
	Cluster   types.ClusterBus
	Config    Config
}

// User is a handle bound to one username. Like chatroom.Room, it carries no
// state of its own and is cheap to construct per command.
type User struct {
	deps Deps
	name types.Username
}

func New(deps Deps, name types.Username) *User {
	return &User{deps: deps, name: name}
}

func (u *User) Name() types.Username { return u.name }
